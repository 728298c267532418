package mvarload_api

// Header holds the meta lines of a VCF that the importer reads: the INFO
// schema and the sample columns. Every other meta line is kept verbatim.
type Header struct {
	// INFO lines keyed by ID
	Info map[string]HeaderLineIdNumberTypeDescription

	Other []string

	// Sample names in genotype column order
	Samples []string
}

// A struct representing a header line in the VCF file with its ID, Number, Type and Description
type HeaderLineIdNumberTypeDescription struct {
	// The ID of the header line
	Id string

	// The number of values in the header line
	// Can be any integer, "A", "G", "R" or "."
	Number string

	// The type of the header line
	// Can be "Integer", "Float", "Flag", "String" or "Character"
	Type string

	// The description of the header line, quotes included.
	// For ANN, CSQ and SVANN it carries the pipe-delimited field schema.
	Description string
}

// VariantType is the mutation class inferred from the REF and ALT alleles.
type VariantType string

const (
	TypeSNP  VariantType = "SNP"
	TypeIns  VariantType = "INS"
	TypeDel  VariantType = "DEL"
	TypeGain VariantType = "GAIN"
	TypeLoss VariantType = "LOSS"
	TypeInv  VariantType = "INV"
)

// Status tells the persistence layer what to do with a record.
// It is one of Pending, New or Existing.
type Status interface {
	isStatus()
}

// Pending is the status of a freshly parsed record.
type Pending struct{}

// New marks a record that received a canonical index during persistence.
type New struct {
	Index int64
}

// Existing marks a record already stored under ID; it is linked, not re-inserted.
type Existing struct {
	ID int64
}

func (Pending) isStatus()  {}
func (New) isStatus()      {}
func (Existing) isStatus() {}

// A struct representing one data line of the input VCF file
type VariantRecord struct {
	// The normalized chromosome of the variant
	Chromosome string

	// The 1-based position of the variant
	Pos int64

	// The rsID of the variant (ID column, or the CSQ Existing_variation fallback)
	Id string

	Ref    string
	Alt    string
	Qual   string
	Filter string

	// The FORMAT column and the tab-joined per-sample genotype columns
	Format    string
	Genotypes string

	Type VariantType

	// chr_pos_ref_alt, the dedup and join key within one assembly
	RefTxt string

	Hgvsg           string
	ProteinPosition string
	AminoAcidChange string

	// The raw functional annotation value (ANN, or SVANN for structural variants)
	Annotation string

	// The decoded functional annotation and VEP consequence records
	Annotations  []AnnotationRecord
	Consequences []AnnotationRecord

	// The raw read depth from INFO/DP, empty when absent
	Depth string

	// The pre-liftover reference text, lifted imports only
	OriginRefTxt string

	// The 1-based line number in the source file
	Line int

	Status Status
}

// HasSamples reports whether the record carries per-sample genotype columns.
// A FORMAT column without samples does not count.
func (v *VariantRecord) HasSamples() bool {
	return v.Genotypes != ""
}

// Assembly is a supported mouse reference assembly.
type Assembly string

const (
	MM9  Assembly = "mm9"
	MM10 Assembly = "mm10"
	MM39 Assembly = "mm39"
)

// Imputation tags how a genotype call was obtained.
type Imputation uint8

const (
	// Direct is an observed genotype call.
	Direct Imputation = 0
	// StatisticallyImputed is a call imputed by a statistical model.
	StatisticallyImputed Imputation = 1
	// ExternallyImputed is a call imported from an external imputation.
	ExternallyImputed Imputation = 2
)

//
// Config structs
//

// The struct representing the configuration file
// The config file is a YAML file
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Import   ImportConfig   `yaml:"import"`
	Staging  StagingConfig  `yaml:"staging"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// DatabaseConfig selects the relational store.
type DatabaseConfig struct {
	// One of mysql, postgres or sqlite
	Driver string `yaml:"driver"`

	DSN string `yaml:"dsn"`

	// The largest number of bound values in a single IN (...) lookup
	MaxInParams int `yaml:"max_in_params"`
}

// ImportConfig holds the defaults of the insert and materialize commands.
type ImportConfig struct {
	BatchSize    int    `yaml:"batch_size"`
	Assembly     string `yaml:"assembly"`
	Source       string `yaml:"source"`
	MaxLineBytes int    `yaml:"max_line_bytes"`
	CacheSize    int    `yaml:"cache_size"`
}

// StagingConfig names the tables used as inter-phase buffers.
type StagingConfig struct {
	Transcripts  string `yaml:"transcripts"`
	Genotypes    string `yaml:"genotypes"`
	AssemblyXref string `yaml:"assembly_xref"`
}

type LogConfig struct {
	// prod for JSON output, anything else for the console encoder
	Mode string `yaml:"mode"`
}

type MetricsConfig struct {
	// Path of a Prometheus textfile written when a command ends
	File string `yaml:"file"`
}
