package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path"
	"strconv"
	"strings"
	"syscall"

	"btreedb/config"
	"btreedb/pkg/blockstore"
	"btreedb/pkg/btree"
	"btreedb/pkg/catalog"
	"btreedb/pkg/codec"
	"btreedb/pkg/query"
	"btreedb/pkg/record"
	"btreedb/util/stream"
)

func main() {
	configs := config.New()
	dbc := configs.DBConfig

	if err := os.MkdirAll(dbc.Path, 0755); err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := record.NewStore()
	cat := catalog.New(store, record.JSONCodec{})

	ageStore, ageIndex, err := openInt64Index(ctx, dbc, "age")
	if err != nil {
		fatal(err)
	}
	defer closeStore(ageStore)
	cat.Attach(ageIndex)

	nameStore, nameIndex, err := openStringIndex(ctx, dbc, "name")
	if err != nil {
		fatal(err)
	}
	defer closeStore(nameStore)
	cat.Attach(nameIndex)

	engine := query.New(cat)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	done := make(chan struct{})
	go func() {
		defer close(done)
		repl(ctx, cat, engine)
	}()

	select {
	case <-done:
	case q := <-quit:
		fmt.Printf("\n%s signal received, stopping gracefully...\n", q.String())
		cancel()
	}
}

func openInt64Index(ctx context.Context, dbc *config.DBConfig, field string) (*blockstore.Store, catalog.FieldIndex, error) {
	bs, err := openStore(dbc, field)
	if err != nil {
		return nil, nil, err
	}

	idx, err := btree.Open[int64, record.ID](ctx, bs, codec.Int64{}, record.IDCodec, &btree.Options[int64]{
		Field:   field,
		Degree:  dbc.Degree,
		Compare: codec.Compare[int64],
	})
	if err != nil {
		_ = bs.Close()
		return nil, nil, err
	}

	return bs, catalog.NewInt64Index(idx), nil
}

func openStringIndex(ctx context.Context, dbc *config.DBConfig, field string) (*blockstore.Store, catalog.FieldIndex, error) {
	bs, err := openStore(dbc, field)
	if err != nil {
		return nil, nil, err
	}

	idx, err := btree.Open[string, record.ID](ctx, bs, codec.String{}, record.IDCodec, &btree.Options[string]{
		Field:   field,
		Degree:  dbc.Degree,
		Compare: codec.Compare[string],
	})
	if err != nil {
		_ = bs.Close()
		return nil, nil, err
	}

	return bs, catalog.NewStringIndex(idx), nil
}

func openStore(dbc *config.DBConfig, field string) (*blockstore.Store, error) {
	return blockstore.Open(path.Join(dbc.Path, field+".idx"), &blockstore.Options{
		BlockSize: dbc.BlockSize,
		QueueSize: dbc.QueueSize,
	})
}

func repl(ctx context.Context, cat *catalog.Catalog, engine *query.Engine) {
	fmt.Println("commands: put <name> <age> | find <field> <op> <value> | between <field> <min> <max> | del <id> | scan | exit")

	sc := bufio.NewScanner(os.Stdin)
	for prompt(); sc.Scan(); prompt() {
		if ctx.Err() != nil {
			return
		}

		args := strings.Fields(sc.Text())
		if len(args) == 0 {
			continue
		}

		switch args[0] {
		case "put":
			if len(args) != 3 {
				fmt.Println("usage: put <name> <age>")
				continue
			}
			age, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				fmt.Println("bad age:", err)
				continue
			}
			id, err := cat.Insert(ctx, record.Row{"name": args[1], "age": age})
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println("id:", id)

		case "find":
			if len(args) != 4 {
				fmt.Println("usage: find <field> <op> <value>")
				continue
			}
			printRows(ctx, engine, &query.Binary{
				Column: args[1],
				Op:     query.Operator(args[2]),
				Value:  parseValue(args[3]),
			})

		case "between":
			if len(args) != 4 {
				fmt.Println("usage: between <field> <min> <max>")
				continue
			}
			printRows(ctx, engine, &query.Between{
				Column: args[1],
				Min:    parseValue(args[2]),
				Max:    parseValue(args[3]),
			})

		case "del":
			if len(args) != 2 {
				fmt.Println("usage: del <id>")
				continue
			}
			id, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				fmt.Println("bad id:", err)
				continue
			}
			ok, err := cat.Delete(ctx, record.ID(id))
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println("deleted:", ok)

		case "scan":
			entries := cat.Store().Scan(ctx)
			for {
				en, ok := entries.Pop()
				if !ok {
					break
				}
				fmt.Printf("%d: %s\n", en.ID, string(en.Data))
			}
			if err := entries.Err(); err != nil {
				fmt.Println("error:", err)
			}

		case "exit":
			return

		default:
			fmt.Println("unknown command:", args[0])
		}
	}
}

func printRows(ctx context.Context, engine *query.Engine, p query.Predicate) {
	rows, err := engine.Execute(ctx, p)
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	count := 0
	for {
		row, ok := rows.Pop()
		if !ok {
			break
		}
		fmt.Printf("%v\n", row)
		count++
	}
	if err := rows.Err(); err != nil {
		fmt.Println("error:", err)
		stream.Drain(rows)
		return
	}
	fmt.Printf("%d row(s)\n", count)
}

func parseValue(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func closeStore(s *blockstore.Store) {
	if err := s.Close(); err != nil {
		fmt.Println("error on gracefully stopping:", err)
	}
}

func fatal(val interface{}) {
	fmt.Println(val)
	os.Exit(1)
}

func prompt() {
	fmt.Print("> ")
}
