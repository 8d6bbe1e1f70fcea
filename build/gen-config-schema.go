// gen-config-schema writes the JSON schema of the configuration file, reflected from the configuration
// types. With -check it only reports whether the file on disk is current.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"

	"github.com/open-policy-agent/ocp-reposync/internal/config"
)

func main() {
	check := flag.Bool("check", false, "fail if the schema file is out of date instead of writing it")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [-check] path/to/schema.json\n", os.Args[0])
		os.Exit(2)
	}
	path := flag.Arg(0)

	bs, err := config.ReflectSchema()
	if err != nil {
		fmt.Fprintf(os.Stderr, "reflect schema: %v\n", err)
		os.Exit(1)
	}
	bs = append(bs, '\n')

	if *check {
		current, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read %s: %v\n", path, err)
			os.Exit(1)
		}
		if !bytes.Equal(current, bs) {
			fmt.Fprintf(os.Stderr, "%s is out of date, run go generate ./config\n", path)
			os.Exit(1)
		}
		return
	}

	if err := os.WriteFile(path, bs, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", path, err)
		os.Exit(1)
	}
}
