package distexec

import (
	"context"
	"math"

	"github.com/kp1181/scool/errors"
	"github.com/kp1181/scool/fabric"
	"github.com/kp1181/scool/log"
	"github.com/kp1181/scool/wire"
)

// boundaryTag is reserved for the superstep boundary's explicit
// all-reduce of per-peer counters (spec.md §4.7.6); it is distinct from
// fabric.ReqTag, on which the binary-tree state-reduction contributions
// (RDC header plus serialized state, in one message) run concurrently
// with stealing. fabric.RdcTag is not used by this package.
const boundaryTag = 201

// counters are the three per-peer integers all-reduced (by sum) at every
// superstep boundary: total tasks this peer processed, the portion that
// were its own (local), and the portion stolen from elsewhere (remote).
// allReduceCounters adds a fourth value at rank 0: the squared deviation
// of each peer's (local+remote) from the mean total across peers, used
// as a load-balance sanity signal.
type counters struct {
	total, local, remote int
}

func (c counters) sanityCheck() error {
	if c.local+c.remote != c.total {
		return errors.E("distexec.counters.sanityCheck", errors.Integrity,
			errors.Errorf("local(%d) + remote(%d) != total(%d)", c.local, c.remote, c.total))
	}
	return nil
}

func (c counters) marshal() []byte {
	var o wire.Output
	o.PutInt32(int32(c.total))
	o.PutInt32(int32(c.local))
	o.PutInt32(int32(c.remote))
	return o.Bytes()
}

func unmarshalCounters(b []byte) (counters, error) {
	in := wire.NewInput(b)
	total, err := in.GetInt32()
	if err != nil {
		return counters{}, err
	}
	local, err := in.GetInt32()
	if err != nil {
		return counters{}, err
	}
	remote, err := in.GetInt32()
	if err != nil {
		return counters{}, err
	}
	return counters{total: int(total), local: int(local), remote: int(remote)}, nil
}

// allReduceCounters implements spec.md §4.7.6's "single explicit
// all-reduce of four counters per peer" as a centralized star at rank 0:
// every non-root sends its counters to rank 0 and waits for the summary;
// rank 0 sums every peer's counters (including its own), computes the
// squared-deviation term, and broadcasts the summary back. This is the
// authoritative, non-overlapped correctness check; the binary-tree
// Reducer carries the state itself, not these bookkeeping counters.
func allReduceCounters(ctx context.Context, fab fabric.Fabric, mine counters) (summary counters, deviation float64, err error) {
	rank, n := fab.Rank(), fab.Size()
	if rank != 0 {
		if err := fab.Send(ctx, fabric.Background, 0, boundaryTag, mine.marshal()); err != nil {
			return counters{}, 0, err
		}
		_, b, err := fab.Recv(ctx, fabric.Background, boundaryTag)
		if err != nil {
			return counters{}, 0, err
		}
		in := wire.NewInput(b)
		total, err := in.GetInt32()
		if err != nil {
			return counters{}, 0, err
		}
		local, err := in.GetInt32()
		if err != nil {
			return counters{}, 0, err
		}
		remote, err := in.GetInt32()
		if err != nil {
			return counters{}, 0, err
		}
		dev, err := in.GetFloat64()
		if err != nil {
			return counters{}, 0, err
		}
		return counters{total: int(total), local: int(local), remote: int(remote)}, dev, nil
	}

	all := make([]counters, n)
	all[0] = mine
	for i := 1; i < n; i++ {
		from, b, err := fab.Recv(ctx, fabric.Background, boundaryTag)
		if err != nil {
			return counters{}, 0, err
		}
		c, err := unmarshalCounters(b)
		if err != nil {
			return counters{}, 0, err
		}
		all[from] = c
	}
	sum := counters{}
	for _, c := range all {
		sum.total += c.total
		sum.local += c.local
		sum.remote += c.remote
	}
	mean := float64(sum.total) / float64(n)
	var sq float64
	for _, c := range all {
		d := float64(c.local+c.remote) - mean
		sq += d * d
	}

	var out wire.Output
	out.PutInt32(int32(sum.total))
	out.PutInt32(int32(sum.local))
	out.PutInt32(int32(sum.remote))
	out.PutFloat64(sq)
	for i := 1; i < n; i++ {
		if err := fab.Send(ctx, fabric.Background, i, boundaryTag, out.Bytes()); err != nil {
			return counters{}, 0, err
		}
	}
	return sum, sq, nil
}

// logLoadBalance reports this superstep's load balance as a percentage
// standard deviation of per-peer task totals from the mean, the same
// diagnostic mpi_executor.hpp's step() computes from its all-reduced
// squared-deviation counter (sd = sqrt(sqDeviation/n); p_sd = sd/mean*100)
// before logging local/remote/stddev at debug level.
func logLoadBalance(logger *log.Logger, kind string, rank, step, n int, summary counters, sqDeviation float64) {
	mean := float64(summary.total) / float64(n)
	var pctStdDev float64
	if mean > 0 {
		sd := math.Sqrt(sqDeviation / float64(n))
		pctStdDev = (sd / mean) * 100
	}
	logger.Debugf("distexec: %s peer %d superstep %d local=%d remote=%d stddev=%.2f%%",
		kind, rank, step, summary.local, summary.remote, pctStdDev)
}

func clampFraction(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
