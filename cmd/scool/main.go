// Scool is a demo driver for the SCoOL runtime: it explores a complete
// binary tree of a given depth (each task pushes two children until the
// depth is exhausted) and reports the leaf count, which must equal
// 2^depth regardless of which backend or peer split computed it. It
// exists to exercise scool/seqexec, scool/shmexec, and scool/distexec
// end to end, the way cmd/reflow exercises reflow's own Eval/Scheduler
// stack from the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	scool "github.com/kp1181/scool"
	"github.com/kp1181/scool/config"
	"github.com/kp1181/scool/distexec"
	"github.com/kp1181/scool/fabric"
	"github.com/kp1181/scool/log"
	"github.com/kp1181/scool/seqexec"
	"github.com/kp1181/scool/shmexec"
	"github.com/kp1181/scool/wire"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: scool [flags]

Scool explores a complete binary tree of -depth levels with the
backend named by -backend (seq, shm, or dist) and prints the resulting
leaf count.

-unique selects the tree-shaped specialization (shmexec.TreeExecutor)
when true, or the graph-shaped specialization (shmexec.DAGExecutor)
when false for the shm backend; -b names the graph specialization's
bucket count per task-table view.

With -backend=dist, -config must name a YAML file describing the peer
list, this peer's rank, and its specialization (see scool/config.Config);
scool dials every other peer, runs one node's worth of the run, and
exits once every peer has converged. config.Config's Unique field picks
between distexec.UniquePeer and distexec.NonUniquePeer (every peer in a
run must agree), and LogLevel sets that peer's log level unless
SCOOL_LOG_LEVEL is set, which takes precedence.
`)
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	backend := flag.String("backend", "seq", "executor backend: seq, shm, or dist")
	depth := flag.Int("depth", 10, "binary tree depth to explore")
	workers := flag.Int("p", 4, "worker goroutines (shm backend only)")
	buckets := flag.Uint("b", 8, "buckets per task-table view (shm backend, -unique=false only)")
	unique := flag.Bool("unique", true, "tree-shaped (true) vs graph-shaped (false) specialization")
	configFile := flag.String("config", "", "path to a config.Config YAML file (dist backend only)")
	listenAddr := flag.String("listen", "", "this peer's listen address (dist backend only)")
	flag.Usage = usage
	flag.Parse()

	logger := log.New(log.Std.Outputter, log.LevelFromEnviron(log.InfoLevel))

	var err error
	switch *backend {
	case "seq":
		err = runSeq(*depth, logger)
	case "shm":
		err = runShm(*depth, *workers, *unique, *buckets, logger)
	case "dist":
		err = runDist(*depth, *configFile, *listenAddr, logger)
	default:
		fmt.Fprintf(os.Stderr, "scool: unknown backend %q\n", *backend)
		usage()
	}
	if err != nil {
		log.Fatalf("scool: %v", err)
	}
}

// node is a task in the demo binary-tree search space: it has a depth
// remaining and a path string unique along the tree (so that two nodes
// reached by different paths never compare equal, matching the tree
// case's requirement that == never recur across paths).
type node struct {
	path  string
	depth int
}

func (n node) Hash() uint64 {
	var w wire.Output
	_ = n.MarshalTo(&w)
	return scool.HashBytes(w.Bytes())
}

func (n node) Process(ctx *scool.Context[node, leafCount], state *leafCount) {
	if n.depth == 0 {
		*state = state.Add(leafCount(1))
		return
	}
	ctx.Push(node{path: n.path + "0", depth: n.depth - 1})
	ctx.Push(node{path: n.path + "1", depth: n.depth - 1})
}

func (n node) Merge(other node) node { return n }

func (n node) MarshalTo(w *wire.Output) error {
	w.PutString(n.path)
	w.PutInt32(int32(n.depth))
	return nil
}

func decodeNode(r *wire.Input) (node, error) {
	path, err := r.GetString()
	if err != nil {
		return node{}, err
	}
	depth, err := r.GetInt32()
	if err != nil {
		return node{}, err
	}
	return node{path: path, depth: int(depth)}, nil
}

type leafCount int

func (c leafCount) Add(other leafCount) leafCount { return c + other }
func (c leafCount) Identity() leafCount           { return 0 }
func (c leafCount) MarshalTo(w *wire.Output) error {
	w.PutInt32(int32(c))
	return nil
}

func decodeLeafCount(r *wire.Input) (leafCount, error) {
	v, err := r.GetInt32()
	if err != nil {
		return 0, err
	}
	return leafCount(v), nil
}

func runSeq(depth int, logger *log.Logger) error {
	e := seqexec.New[node, leafCount](leafCount(0), logger)
	e.Init(node{depth: depth})
	for e.Step() > 0 {
	}
	fmt.Printf("seq: depth=%d leaves=%d supersteps=%d\n", depth, e.State(), e.Iteration())
	return nil
}

func runShm(depth, p int, unique bool, b uint, logger *log.Logger) error {
	if unique {
		e := shmexec.NewTree[node, leafCount](p, leafCount(0), logger)
		e.Init(node{depth: depth})
		for e.Step() > 0 {
		}
		fmt.Printf("shm: depth=%d p=%d leaves=%d supersteps=%d\n", depth, p, e.State(), e.Iteration())
		return nil
	}
	e := shmexec.NewDAG[node, leafCount](uint(p), b, node.Hash, mergeNodes, leafCount(0), logger)
	e.Init(node{depth: depth})
	for e.Step() > 0 {
	}
	fmt.Printf("shm: depth=%d p=%d b=%d leaves=%d supersteps=%d\n", depth, p, b, e.State(), e.Iteration())
	return nil
}

func mergeNodes(a, b node) node { return a.Merge(b) }

// distPeer is the common surface of UniquePeer and NonUniquePeer that
// runDist's superstep loop needs, so the same loop drives either
// specialization.
type distPeer interface {
	InitRange([]node)
	Step(ctx context.Context) (int, error)
	State() leafCount
	Iteration() int
	Close(ctx context.Context) error
}

func runDist(depth int, configFile, listenAddr string, logger *log.Logger) error {
	if configFile == "" {
		return fmt.Errorf("-config is required for the dist backend")
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if cfg.LogLevel != "" {
		if level, ok := log.ParseLevel(cfg.LogLevel); ok {
			logger = log.New(log.Std.Outputter, log.LevelFromEnviron(level))
		}
	}

	ctx := context.Background()
	fab, err := fabric.DialTCP(ctx, cfg.Rank, cfg.Peers, listenAddr, logger)
	if err != nil {
		return err
	}
	defer fab.Close()

	var peer distPeer
	if cfg.Unique {
		up := distexec.NewUniquePeer[node, leafCount](cfg.Rank, len(cfg.Peers), fab, leafCount(0), decodeNode, decodeLeafCount, logger)
		up.WithParams(cfg.LocalFractionOrDefault(), cfg.MinStealBatchOrDefault())
		peer = up
	} else {
		peer = distexec.NewNonUniquePeer[node, leafCount](cfg.Rank, len(cfg.Peers), fab, nil, leafCount(0), decodeNode, decodeLeafCount, logger)
	}
	defer peer.Close(ctx)

	if cfg.Rank == 0 {
		peer.InitRange([]node{{depth: depth}})
	} else {
		peer.InitRange(nil)
	}

	if err := fab.Barrier(ctx); err != nil {
		return err
	}
	for {
		n, err := peer.Step(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
	}
	fmt.Printf("dist: rank=%d unique=%v depth=%d leaves=%d supersteps=%d\n", cfg.Rank, cfg.Unique, depth, peer.State(), peer.Iteration())
	return nil
}
