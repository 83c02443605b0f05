package stores_test

import (
	"context"
	"fmt"
	"log"

	"github.com/openfroyo/tplcheck/pkg/stores"
	"github.com/openfroyo/tplcheck/pkg/types"
)

// ExampleSQLiteStore_SaveReport stores a failed check and reads it back.
func ExampleSQLiteStore_SaveReport() {
	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	report := &stores.Report{
		TypeName: "app.AppConfig",
		Violations: []types.Violation{{
			Kind:    types.ViolationConstraint,
			Path:    types.Root.Key("name"),
			Message: "length 2 is less than minimum 3",
		}},
	}
	if err := store.SaveReport(ctx, report); err != nil {
		log.Fatal(err)
	}

	got, err := store.GetReport(ctx, report.ID)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("valid=%v violations=%d\n", got.Valid, len(got.Violations))
	fmt.Println(got.Violations[0])
	// Output:
	// valid=false violations=1
	// name: length 2 is less than minimum 3
}
