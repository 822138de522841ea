package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/refpages/apidelta/pkg/delta"
	"github.com/refpages/apidelta/pkg/ir"
)

func main() {
	// Usage: go run *.go -older v1.json -newer v2.json

	olderFlag := flag.String("older", "", "IR file of the older version")
	newerFlag := flag.String("newer", "", "IR file of the newer version")

	// Parse the command-line flags
	flag.Parse()

	if *olderFlag == "" || *newerFlag == "" {
		fmt.Println("Both IR files are required. Please provide them using the -older and -newer flags.")
		return
	}

	older, err := ir.Load(*olderFlag)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	newer, err := ir.Load(*newerFlag)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	// Diffing is a pure function: no database or git host needed.
	d := delta.Compute(older, newer)

	fmt.Printf("%s -> %s: %d breaking change(s)\n", d.PreviousVersion, d.Version, d.BreakingCount())
	for _, removed := range d.Removed {
		fmt.Println("removed:", removed.QualifiedName)
	}
	for _, added := range d.Added {
		fmt.Println("added:", added.QualifiedName)
	}

	blob, _ := json.MarshalIndent(d, "", "  ")
	fmt.Println(string(blob))
}
