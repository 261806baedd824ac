package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
)

// confview dumps the coordinator state from Badger in read-only mode so
// it can run next to a live coordinator process.
func main() {
	_ = godotenv.Load()

	dbPath := flag.String("db", os.Getenv("BADGER_FILEPATH"), "Path to badger DB")
	prefix := flag.String("prefix", "", "Key prefix to scan, empty for all state")
	flag.Parse()

	if *dbPath == "" {
		log.Fatal("no database path, set -db or BADGER_FILEPATH")
	}

	opts := badger.DefaultOptions(*dbPath).
		WithReadOnly(true).
		WithBypassLockGuard(true).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Kind", "Detail"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	rows := 0
	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(*prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			key := string(item.Key())

			err := item.Value(func(v []byte) error {
				table.Append([]string{key, kindOf(key), detailOf(key, v)})
				rows++
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	table.Render()
	color.Cyan.Printf("%d entries\n", rows)
}

func kindOf(key string) string {
	kind, _, ok := strings.Cut(key, ":")
	if !ok {
		return "?"
	}
	return strings.ToUpper(kind)
}

// detailOf renders the stored JSON compactly, coloring the conference
// lifecycle so open conferences stand out in the dump.
func detailOf(key string, value []byte) string {
	var decoded map[string]any
	if err := json.Unmarshal(value, &decoded); err != nil {
		return string(value)
	}

	if strings.HasPrefix(key, "conference:") {
		if state, ok := decoded["state"].(string); ok {
			if state == "open" {
				decoded["state"] = color.Green.Sprint(state)
			} else {
				decoded["state"] = color.Red.Sprint(state)
			}
		}
	}

	keys := make([]string, 0, len(decoded))
	for k := range decoded {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(decoded))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, decoded[k]))
	}
	return strings.Join(parts, " ")
}
