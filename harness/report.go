// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package harness

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/curioloop/rosenbrock/problem"
)

// Report holds one row per method for a single instance.
type Report struct {
	Instance problem.Instance
	Rows     []Row
}

// maxShown limits the decision-vector entries printed per row.
const maxShown = 6

// Print writes the report as an aligned table.
func (r *Report) Print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "instance %q  p=%.4g\n", r.Instance.Name, r.Instance.P)
	fmt.Fprintln(tw, "Method\tObjective\tViolation\tFeasible\tElapsed\tX")
	fmt.Fprintln(tw, "------\t---------\t---------\t--------\t-------\t-")
	for _, row := range r.Rows {
		fmt.Fprintf(tw, "%s\t%.6g\t%.3g\t%t\t%s\t%s\n",
			row.Method, row.Objective, row.Violation, row.Feasible,
			row.Elapsed.Round(time.Microsecond), formatX(row.X))
	}
	return tw.Flush()
}

func formatX(x []float64) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range x {
		if i == maxShown {
			fmt.Fprintf(&sb, " … +%d", len(x)-maxShown)
			break
		}
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strconv.FormatFloat(v, 'g', 4, 64))
	}
	sb.WriteByte(']')
	return sb.String()
}

// Summary aggregates the rows of one method over a sweep.
type Summary struct {
	Method        string
	Count         int
	MeanObjective float64
	MeanViolation float64
	FeasibleRatio float64
	MeanElapsed   time.Duration
}

type accumulator struct {
	n                    int
	objective, violation float64
	feasible             int
	elapsed              time.Duration
}

func (a *accumulator) add(row Row) {
	a.n++
	a.objective += row.Objective
	a.violation += row.Violation
	a.elapsed += row.Elapsed
	if row.Feasible {
		a.feasible++
	}
}

func (a *accumulator) summary(method string) Summary {
	s := Summary{Method: method, Count: a.n}
	if a.n == 0 {
		s.MeanObjective, s.MeanViolation, s.FeasibleRatio = math.NaN(), math.NaN(), math.NaN()
		return s
	}
	n := float64(a.n)
	s.MeanObjective = a.objective / n
	s.MeanViolation = a.violation / n
	s.FeasibleRatio = float64(a.feasible) / n
	s.MeanElapsed = a.elapsed / time.Duration(a.n)
	return s
}

// PrintSummaries writes sums as an aligned table.
func PrintSummaries(w io.Writer, sums []Summary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Method\tCount\tMean Objective\tMean Violation\tFeasible\tMean Elapsed")
	fmt.Fprintln(tw, "------\t-----\t--------------\t--------------\t--------\t------------")
	for _, s := range sums {
		fmt.Fprintf(tw, "%s\t%d\t%.6g\t%.3g\t%.2f%%\t%s\n",
			s.Method, s.Count, s.MeanObjective, s.MeanViolation, 100*s.FeasibleRatio,
			s.MeanElapsed.Round(time.Microsecond))
	}
	return tw.Flush()
}
