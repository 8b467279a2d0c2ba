package corewal_test

import (
	"fmt"
	"io"
	"os"

	"corewal"
	"corewal/internal/record"
)

func Example() {
	dir, err := os.MkdirTemp("", "corewal-example")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)

	w, _, err := corewal.Open(corewal.Config{Dir: dir})
	if err != nil {
		panic(err)
	}
	defer w.Close()

	if _, err := w.Append(record.Put([]byte("user:1"), []byte("alice"))); err != nil {
		panic(err)
	}
	if _, err := w.Append(record.Delete([]byte("user:1"))); err != nil {
		panic(err)
	}

	reader, err := w.ReadFrom(corewal.Position{})
	if err != nil {
		panic(err)
	}
	defer reader.Close()

	for {
		rec, _, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			panic(err)
		}
		if rec.Tombstone {
			fmt.Printf("delete %s\n", rec.Key)
		} else {
			fmt.Printf("put %s=%s\n", rec.Key, rec.Value)
		}
	}

	// Output:
	// put user:1=alice
	// delete user:1
}
