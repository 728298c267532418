package mvarload_api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jmoiron/sqlx"
	"golang.org/x/text/cases"
)

// ErrUnknownStrain is returned when a listed strain name matches no strain.
var ErrUnknownStrain = errors.New("unknown strain")

// Strain is one entry of the strain list, in genotype column order.
type Strain struct {
	Name string
	ID   int64
}

// StrainMap is the ordered strain list of a genotype import.
type StrainMap struct {
	strains []Strain
}

func (m *StrainMap) Len() int { return len(m.strains) }

func (m *StrainMap) At(i int) Strain { return m.strains[i] }

func (m *StrainMap) Strains() []Strain { return append([]Strain(nil), m.strains...) }

// ReadStrainNames reads one strain name per line. Blank lines are ignored.
func ReadStrainNames(ctx context.Context, r io.Reader) ([]string, error) {
	var names []string
	err := ScanLines(ctx, r, 0, func(line string, _ int) error {
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read strain list: %w", err)
	}
	return names, nil
}

type strainRow struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
}

// ResolveStrains finds the strain id of every name: an exact match first,
// then a case-insensitive one, then the lowest id whose name starts with it.
// Any unresolved name is an error.
func ResolveStrains(ctx context.Context, s *Session, names []string) (*StrainMap, error) {
	exact, err := lookupIDs(ctx, s.conn, s.maxInParams,
		"SELECT id, name AS k FROM strain WHERE name IN (?) ORDER BY id", uniqueStrings(names))
	if err != nil {
		return nil, fmt.Errorf("resolve strains: %w", err)
	}

	fold := cases.Fold()
	m := &StrainMap{strains: make([]Strain, 0, len(names))}
	var unknown []string
	for _, name := range names {
		if id, ok := exact[name]; ok {
			m.strains = append(m.strains, Strain{Name: name, ID: id})
			continue
		}
		var candidates []strainRow
		query := s.conn.Rebind("SELECT id, name FROM strain WHERE LOWER(name) LIKE ? ORDER BY id")
		if err := s.conn.SelectContext(ctx, &candidates, query, strings.ToLower(name)+"%"); err != nil {
			return nil, fmt.Errorf("resolve strain %q: %w", name, err)
		}
		id, ok := pickStrain(fold, name, candidates)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		m.strains = append(m.strains, Strain{Name: name, ID: id})
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrain, strings.Join(unknown, ", "))
	}
	return m, nil
}

// pickStrain prefers a case-insensitive full match over a prefix match.
func pickStrain(fold cases.Caser, name string, candidates []strainRow) (int64, bool) {
	if len(candidates) == 0 {
		return 0, false
	}
	folded := fold.String(name)
	for _, candidate := range candidates {
		if fold.String(candidate.Name) == folded {
			return candidate.ID, true
		}
	}
	for _, candidate := range candidates {
		if strings.HasPrefix(fold.String(candidate.Name), folded) {
			return candidate.ID, true
		}
	}
	return 0, false
}

// Register makes sure every strain of m is in the mvar_strain registry and,
// for imputed genotypes, linked to the imputation code. It returns the
// number of newly registered strains.
func (m *StrainMap) Register(ctx context.Context, s *Session, imputation Imputation) (int, error) {
	strainIDs := make([]int64, len(m.strains))
	for i, strain := range m.strains {
		strainIDs[i] = strain.ID
	}
	registered, err := registryIDs(ctx, s, strainIDs)
	if err != nil {
		return 0, err
	}

	added := 0
	err = s.InTx(ctx, func(tx *sqlx.Tx) error {
		insert := tx.Rebind("INSERT INTO mvar_strain (name, strain_id) VALUES (?, ?)")
		for _, strain := range m.strains {
			if _, ok := registered[strain.ID]; ok {
				continue
			}
			if _, err := tx.ExecContext(ctx, insert, strain.Name, strain.ID); err != nil {
				return fmt.Errorf("register strain %q: %w", strain.Name, err)
			}
			var id int64
			if err := tx.GetContext(ctx, &id, tx.Rebind("SELECT id FROM mvar_strain WHERE strain_id = ?"), strain.ID); err != nil {
				return fmt.Errorf("register strain %q: %w", strain.Name, err)
			}
			registered[strain.ID] = id
			added++
		}

		if imputation == Direct {
			return nil
		}
		imputedID, err := ensureImputed(ctx, tx, imputation)
		if err != nil {
			return err
		}
		var linked []int64
		if err := tx.SelectContext(ctx, &linked,
			tx.Rebind("SELECT mvar_strain_imputeds_id FROM mvar_strain_imputed WHERE imputed_id = ?"), imputedID); err != nil {
			return fmt.Errorf("read imputed strain links: %w", err)
		}
		seen := make(map[int64]bool, len(linked))
		for _, id := range linked {
			seen[id] = true
		}
		link := tx.Rebind("INSERT INTO mvar_strain_imputed (mvar_strain_imputeds_id, imputed_id) VALUES (?, ?)")
		for _, strainID := range strainIDs {
			registryID := registered[strainID]
			if seen[registryID] {
				continue
			}
			if _, err := tx.ExecContext(ctx, link, registryID, imputedID); err != nil {
				return fmt.Errorf("link imputed strain: %w", err)
			}
			seen[registryID] = true
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

func ensureImputed(ctx context.Context, tx *sqlx.Tx, imputation Imputation) (int64, error) {
	var ids []int64
	query := tx.Rebind("SELECT id FROM imputed WHERE imputed = ?")
	if err := tx.SelectContext(ctx, &ids, query, int64(imputation)); err != nil {
		return 0, fmt.Errorf("read imputed code: %w", err)
	}
	if len(ids) > 0 {
		return ids[0], nil
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind("INSERT INTO imputed (imputed) VALUES (?)"), int64(imputation)); err != nil {
		return 0, fmt.Errorf("add imputed code: %w", err)
	}
	var id int64
	if err := tx.GetContext(ctx, &id, query, int64(imputation)); err != nil {
		return 0, fmt.Errorf("add imputed code: %w", err)
	}
	return id, nil
}

type registryRow struct {
	ID       int64 `db:"id"`
	StrainID int64 `db:"strain_id"`
}

// registryIDs maps strain ids to their mvar_strain registry ids.
func registryIDs(ctx context.Context, s *Session, strainIDs []int64) (map[int64]int64, error) {
	out := make(map[int64]int64, len(strainIDs))
	err := inChunks(strainIDs, s.maxInParams, func(chunk []int64) error {
		query, args, err := sqlx.In("SELECT id, strain_id FROM mvar_strain WHERE strain_id IN (?) ORDER BY id", chunk)
		if err != nil {
			return err
		}
		var rows []registryRow
		if err := s.conn.SelectContext(ctx, &rows, s.conn.Rebind(query), args...); err != nil {
			return err
		}
		for _, row := range rows {
			if _, ok := out[row.StrainID]; !ok {
				out[row.StrainID] = row.ID
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read strain registry: %w", err)
	}
	return out, nil
}
