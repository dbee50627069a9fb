package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// evalLog records every evaluation to CSV and tracks the best one seen.
type evalLog struct {
	w      *csv.Writer
	params *ParamVector
	total  int
	start  time.Time
	out    io.Writer

	count       int
	bestFitness float64
	bestParams  []float64
}

func newEvalLog(w io.Writer, out io.Writer, params *ParamVector, total int) *evalLog {
	l := &evalLog{
		w:           csv.NewWriter(w),
		params:      params,
		total:       total,
		start:       time.Now(),
		out:         out,
		bestFitness: failedFitness,
	}
	header := []string{"eval", "fitness", "residual_ke", "residual_disp", "peak_disp"}
	for _, spec := range params.Specs {
		header = append(header, spec.Name)
	}
	l.w.Write(header)
	l.w.Flush()
	return l
}

// record logs one evaluation of the clamped values.
func (l *evalLog) record(fitness float64, values []float64, ke, disp, peak float64) {
	l.count++
	if l.bestParams == nil || fitness < l.bestFitness {
		l.bestFitness = fitness
		l.bestParams = values
	}

	row := []string{strconv.Itoa(l.count), ftoa(fitness), ftoa(ke), ftoa(disp), ftoa(peak)}
	for _, v := range values {
		row = append(row, ftoa(v))
	}
	l.w.Write(row)
	l.w.Flush()

	elapsed := time.Since(l.start)
	eta := time.Duration(l.total-l.count) * (elapsed / time.Duration(l.count))
	fmt.Fprintf(l.out, "eval %d/%d  fitness=%.4f ke=%.4f disp=%.3f peak=%.3f  best=%.4f  [%s, eta %s]\n",
		l.count, l.total, fitness, ke, disp, peak, l.bestFitness,
		formatDuration(elapsed), formatDuration(max(eta, 0)))
}

// err reports the first CSV write error.
func (l *evalLog) err() error { return l.w.Error() }

func ftoa(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }

// formatDuration renders d as 1h02m03s or 2m03s.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}
