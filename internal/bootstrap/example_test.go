package bootstrap_test

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/eventroll/rollcall/internal/bootstrap"
	"github.com/eventroll/rollcall/internal/seed"
	"github.com/eventroll/rollcall/internal/store/memory"
)

func ExampleSynchronizer_EnsureInitialized() {
	st := memory.New()
	defer st.Close()

	data := []byte("name,branch,category,status,code\n" +
		"Ali,Cairo,VIP,present,C1\n" +
		"Hoda,Giza,Guest,absent,G1\n")
	sync := bootstrap.New(st, seed.New(data), log.New(io.Discard, "", 0))

	first, err := sync.EnsureInitialized(context.Background())
	if err != nil {
		log.Fatal(err)
	}
	second, err := sync.EnsureInitialized(context.Background())
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(first.Inserted, first.AlreadyInitialized)
	fmt.Println(second.Inserted, second.AlreadyInitialized)
	// Output:
	// 2 false
	// 0 true
}
