package mvarload_api

import (
	"context"
	"database/sql"
	"testing"
)

func TestAssemblyReconciler(t *testing.T) {
	session := newTestSession(t)
	ctx := context.Background()

	// mm10 rows with their CAID
	mustExec(t, session, "INSERT INTO variant_canon_identifier (id, variant_ref_txt, caid) VALUES (1, '1_100_C_T', 'MCA_1'), (2, '1_500_C_T', 'MCA_2')")
	// lifted mm39 rows
	mustExec(t, session, "INSERT INTO variant_canon_identifier (id, variant_ref_txt) VALUES (3, '1_170_C_T'), (4, '1_270_C_T'), (5, '1_370_C_T'), (6, '1_500_C_T')")
	mustExec(t, session, "INSERT INTO assembly_xref_temp (lifted_ref_txt, origin_ref_txt) VALUES ('1_170_C_T', '1_100_C_T'), ('1_270_C_T', '1_200_C_T'), ('1_500_C_T', '1_500_C_T')")

	reconciler := &AssemblyReconciler{
		Session: session,
		Xref:    NewStaging(testConfig().Staging).AssemblyXref,
		Window:  JobWindow{BatchSize: 4},
		Logger:  NewNopLogger(),
		Metrics: NewMetrics(),
	}
	result, err := reconciler.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Windows != 2 || result.Rows != 6 || result.Written != 2 || result.Skipped != 2 {
		t.Fatalf("unexpected result %+v", result)
	}

	want := map[int64]sql.NullString{
		1: {String: "MCA_1", Valid: true},
		2: {String: "MCA_2", Valid: true},
		3: {String: "MCA_1", Valid: true},
		4: {},
		5: {},
		6: {String: "MCA_2", Valid: true},
	}
	for id, caid := range want {
		var got sql.NullString
		if err := session.conn.GetContext(ctx, &got, "SELECT caid FROM variant_canon_identifier WHERE id = ?", id); err != nil {
			t.Fatal(err)
		}
		if got != caid {
			t.Fatalf("caid of %d = %+v, want %+v", id, got, caid)
		}
	}
	if session.constraintsOff {
		t.Fatal("constraints should be restored after the run")
	}

	// a second pass only revisits the unmatched rows
	again, err := reconciler.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if again.Written != 0 || again.Skipped != 2 {
		t.Fatalf("unexpected second result %+v", again)
	}
}
