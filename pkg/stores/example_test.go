package stores_test

import (
	"context"
	"fmt"
	"log"

	"github.com/openfroyo/targetplatform/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing the index.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{Path: stores.MemoryPath})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_SaveTarget records a saved definition and the profiles
// it keeps alive.
func ExampleSQLiteStore_SaveTarget() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: stores.MemoryPath})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	target := &stores.Target{Handle: "file:/work/app.target", Name: "App"}
	if err := store.SaveTarget(ctx, target, []string{"sha256:1234"}); err != nil {
		log.Fatal(err)
	}

	refs, _ := store.ReferencedProfiles(ctx)
	fmt.Println(refs["sha256:1234"])
	// Output: true
}
