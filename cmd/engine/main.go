// Command engine drives the WASM execution engine and its content-addressed
// global-state trie from the command line: run a single deploy against a
// persisted store, inspect a root, or dump every key reachable from one.
package main

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/wasmstate/engine/bytesrepr"
	"github.com/wasmstate/engine/digest"
	"github.com/wasmstate/engine/gs"
	"github.com/wasmstate/engine/log"
	"github.com/wasmstate/engine/metrics"
	"github.com/wasmstate/engine/rawstore"
	"github.com/wasmstate/engine/runtime"
	"github.com/wasmstate/engine/runtimecontext"
	"github.com/wasmstate/engine/trackingcopy"
	"github.com/wasmstate/engine/trie"
)

// deployMetrics aggregates gas usage across every deploy this process runs.
// Each recorded entry is tagged by contract address, but the gas_used
// histogram is untagged, so its percentiles cover all deploys together
// rather than any single contract.
var deployMetrics = metrics.NewMetricsCollector(metrics.CollectorConfig{EnableHistograms: true})

func main() {
	app := &cli.App{
		Name:  "engine",
		Usage: "run deploys and inspect global state against a content-addressed trie",
		Commands: []*cli.Command{
			runCommand(),
			inspectRootCommand(),
			dumpKeysCommand(),
			exportSnapshotCommand(),
			importSnapshotCommand(),
			serveMetricsCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Error("engine command failed", "err", err)
		os.Exit(1)
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "execute one deploy against a state root, printing the resulting root",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db", Required: true, Usage: "pebble database directory"},
			&cli.StringFlag{Name: "root", Usage: "hex state root to execute against (omit for an empty trie)"},
			&cli.StringFlag{Name: "wasm", Required: true, Usage: "path to the compiled module"},
			&cli.StringFlag{Name: "caller", Required: true, Usage: "hex 32-byte caller address"},
			&cli.StringFlag{Name: "address", Required: true, Usage: "hex 32-byte contract address"},
			&cli.StringSliceFlag{Name: "arg", Usage: "hex-encoded deploy argument, one per occurrence, in index order"},
			&cli.Uint64Flag{Name: "gas", Value: 10_000_000, Usage: "gas limit for the deploy"},
			&cli.Uint64Flag{Name: "blocktime", Value: 0, Usage: "block timestamp the deploy executes under"},
			&cli.Uint64Flag{Name: "protocol-major", Value: 1, Usage: "major protocol version the deploy executes under"},
		},
		Action: func(c *cli.Context) error {
			store, err := rawstore.OpenPebbleStore(c.String("db"))
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer store.Close()

			nodeDB := trie.NewNodeDatabase(store)
			root := digest.Hash{}
			if r := c.String("root"); r != "" {
				root = digest.HexToHash(r)
			}
			t, err := trie.NewResolvable(nodeDB, root)
			if err != nil {
				return fmt.Errorf("resolving root: %w", err)
			}

			code, err := os.ReadFile(c.String("wasm"))
			if err != nil {
				return fmt.Errorf("reading module: %w", err)
			}

			caller, err := hexAddr32(c.String("caller"))
			if err != nil {
				return fmt.Errorf("caller: %w", err)
			}
			address, err := hexAddr32(c.String("address"))
			if err != nil {
				return fmt.Errorf("address: %w", err)
			}
			args := make([][]byte, 0, len(c.StringSlice("arg")))
			for _, a := range c.StringSlice("arg") {
				b, err := hex.DecodeString(trimHexPrefix(a))
				if err != nil {
					return fmt.Errorf("arg: %w", err)
				}
				args = append(args, b)
			}

			tc := trackingcopy.New(&trieSource{t: t})
			frame := runtimecontext.NewCallFrame(caller, address, code, gs.Addr32{}, args, bytesrepr.U512{}, map[string]gs.Key{}, runtimecontext.PhaseSession, c.Uint64("gas"))
			caps := runtimecontext.NewCapabilitySet()
			protocolVersion := gs.ProtocolVersion{Major: uint32(c.Uint64("protocol-major"))}
			engine := runtime.NewWazeroEngine()
			host := runtime.NewHostFunctions(tc, frame, caps, c.Uint64("blocktime"), address, gs.URef{}, gs.URef{}, protocolVersion, engine)

			metrics.DeployCalls.Inc()
			result, err := engine.Execute(code, frame, host)
			gasUsed := float64(c.Uint64("gas") - frame.Gas.Remaining())
			tags := map[string]string{"contract": fmt.Sprintf("%x", address.Bytes())}
			deployMetrics.Record("gas_used", gasUsed, tags)
			deployMetrics.RecordHistogram("gas_used", gasUsed)
			metrics.DeployGasUsed.Add(int64(gasUsed))
			if err != nil {
				if rev, ok := err.(*runtime.Revert); ok {
					metrics.DeployReverts.Inc()
					return fmt.Errorf("deploy reverted with code %d", rev.Code)
				}
				return fmt.Errorf("executing deploy: %w", err)
			}
			metrics.DeployExecutions.Inc()

			if err := tc.Commit(); err != nil {
				return fmt.Errorf("committing transforms: %w", err)
			}
			newRoot, err := t.Commit(nodeDB)
			if err != nil {
				return fmt.Errorf("committing trie: %w", err)
			}

			log.Info("deploy executed", "root", newRoot.Hex(), "resultBytes", len(result), "gasUsed", gasUsed, "gasP50", deployMetrics.HistogramPercentile("gas_used", 50))
			fmt.Println(newRoot.Hex())
			return nil
		},
	}
}

func inspectRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-root",
		Usage: "report the number of entries reachable from a state root",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db", Required: true},
			&cli.StringFlag{Name: "root", Required: true},
		},
		Action: func(c *cli.Context) error {
			t, _, err := openTrie(c.String("db"), c.String("root"))
			if err != nil {
				return err
			}
			fmt.Printf("entries: %d\n", t.Len())
			return nil
		},
	}
}

func dumpKeysCommand() *cli.Command {
	return &cli.Command{
		Name:  "dump-keys",
		Usage: "print every key reachable from a state root, in lexicographic order",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db", Required: true},
			&cli.StringFlag{Name: "root", Required: true},
		},
		Action: func(c *cli.Context) error {
			t, _, err := openTrie(c.String("db"), c.String("root"))
			if err != nil {
				return err
			}
			it := trie.NewIterator(t)
			for it.Next() {
				fmt.Printf("%x\n", it.Key)
			}
			return it.Err()
		},
	}
}

func exportSnapshotCommand() *cli.Command {
	return &cli.Command{
		Name:  "export-snapshot",
		Usage: "write a zstd-compressed key/value dump of a state root to a file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db", Required: true},
			&cli.StringFlag{Name: "root", Required: true},
			&cli.StringFlag{Name: "out", Required: true, Usage: "output snapshot file path"},
		},
		Action: func(c *cli.Context) error {
			t, _, err := openTrie(c.String("db"), c.String("root"))
			if err != nil {
				return err
			}
			f, err := os.Create(c.String("out"))
			if err != nil {
				return fmt.Errorf("creating snapshot file: %w", err)
			}
			defer f.Close()

			if err := trie.ExportSnapshot(f, t); err != nil {
				return fmt.Errorf("exporting snapshot: %w", err)
			}
			log.Info("snapshot exported", "root", c.String("root"), "out", c.String("out"))
			return nil
		},
	}
}

func importSnapshotCommand() *cli.Command {
	return &cli.Command{
		Name:  "import-snapshot",
		Usage: "replay a snapshot file into a fresh trie, committing it to a store",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db", Required: true},
			&cli.StringFlag{Name: "in", Required: true, Usage: "input snapshot file path"},
		},
		Action: func(c *cli.Context) error {
			f, err := os.Open(c.String("in"))
			if err != nil {
				return fmt.Errorf("opening snapshot file: %w", err)
			}
			defer f.Close()

			restored, err := trie.ImportSnapshot(f)
			if err != nil {
				return fmt.Errorf("importing snapshot: %w", err)
			}

			store, err := rawstore.OpenPebbleStore(c.String("db"))
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer store.Close()

			nodeDB := trie.NewNodeDatabase(store)
			root, err := restored.Commit(nodeDB)
			if err != nil {
				return fmt.Errorf("committing restored trie: %w", err)
			}
			log.Info("snapshot imported", "root", root.Hex())
			fmt.Println(root.Hex())
			return nil
		},
	}
}

func serveMetricsCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve-metrics",
		Usage: "expose the engine's metrics registry as a Prometheus /metrics endpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: ":9090", Usage: "listen address"},
		},
		Action: func(c *cli.Context) error {
			reg := prometheus.NewRegistry()
			reg.MustRegister(metrics.NewPrometheusCollector(metrics.DefaultRegistry, "engine"))

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

			log.Info("serving metrics", "addr", c.String("addr"))
			return http.ListenAndServe(c.String("addr"), mux)
		},
	}
}

func openTrie(dbDir, rootHex string) (*trie.Trie, *trie.NodeDatabase, error) {
	store, err := rawstore.OpenPebbleStore(dbDir)
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}
	nodeDB := trie.NewNodeDatabase(store)
	root := digest.HexToHash(rootHex)
	t, err := trie.NewResolvable(nodeDB, root)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving root: %w", err)
	}
	return t, nodeDB, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func hexAddr32(s string) (gs.Addr32, error) {
	b, err := hex.DecodeString(trimHexPrefix(s))
	if err != nil {
		return gs.Addr32{}, err
	}
	var a gs.Addr32
	if len(b) != len(a) {
		return a, fmt.Errorf("expected %d bytes, got %d", len(a), len(b))
	}
	copy(a[:], b)
	return a, nil
}

// trieSource adapts a *trie.Trie to trackingcopy.Source, encoding gs.Value
// with the canonical byte representation and addressing entries by a key's
// storage identity (URef rights bits never reach the trie itself).
type trieSource struct {
	t *trie.Trie
}

func (s *trieSource) Read(key gs.Key) (gs.Value, bool, error) {
	raw, err := s.t.Get(key.StorageIdentity().TrieKeyBytes())
	if err == trie.ErrNotFound {
		return gs.Value{}, false, nil
	}
	if err != nil {
		return gs.Value{}, false, err
	}
	r := bytesrepr.NewReader(raw)
	v, err := gs.ReadValue(r)
	if err != nil {
		return gs.Value{}, false, err
	}
	return v, true, nil
}

func (s *trieSource) Write(key gs.Key, value gs.Value) error {
	w := bytesrepr.NewWriter(64)
	gs.WriteValue(w, value)
	return s.t.Put(key.StorageIdentity().TrieKeyBytes(), w.Bytes())
}
