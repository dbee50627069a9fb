// Package solver computes spring forces on an asynchronous executor and feeds
// the results back through a ring of in-flight result slots.
package solver

import (
	"encoding/binary"
	"fmt"

	"github.com/pthm-cable/springmesh/config"
	"github.com/pthm-cable/springmesh/mesh"
)

// Record sizes in bytes. Every record is little-endian with fields in
// declaration order and no padding.
const (
	PointInputSize      = 16
	SpringRecordSize    = 12
	PersistentPointSize = 8
	PointResultSize     = 8
	ParamsSize          = 32
)

// PointInput is the per-tick state of one point.
type PointInput struct {
	PosX, PosY float32
	VelX, VelY float32
}

// SpringRecord is one spring of the uploaded topology.
type SpringRecord struct {
	First, Second int32
	RestLength    float32
}

// PersistentPoint holds per-point data uploaded once.
type PersistentPoint struct {
	InitX, InitY float32
}

// PointResult is the velocity delta computed for one point.
type PointResult struct {
	DVX, DVY float32
}

// Params are the solver constants sent with every dispatch.
type Params struct {
	SpringConstant    float32
	Damping           float32
	ReturnForce       float32
	MaxReturnDistance float32
	VelocityGate      float32
	DT                float32
	PointCount        uint32
	SpringCount       uint32
}

// NewParams builds dispatch parameters from config.
func NewParams(cfg config.SolverConfig, dt float32, points, springs int) Params {
	return Params{
		SpringConstant:    float32(cfg.SpringConstant),
		Damping:           float32(cfg.Damping),
		ReturnForce:       float32(cfg.ReturnForce),
		MaxReturnDistance: float32(cfg.MaxReturnDistance),
		VelocityGate:      float32(cfg.VelocityGate),
		DT:                dt,
		PointCount:        uint32(points),
		SpringCount:       uint32(springs),
	}
}

// Topology is the static data an executor receives once before any dispatch.
// Static and the CSR adjacency use the same point indexing as Persistent.
type Topology struct {
	Springs    []SpringRecord
	Persistent []PersistentPoint
	Static     []uint8
	Offsets    []int32
	Incident   []int32
}

// NewTopology converts a built mesh into upload records.
func NewTopology(s *mesh.State) *Topology {
	t := &Topology{
		Springs:    make([]SpringRecord, len(s.Springs)),
		Persistent: make([]PersistentPoint, s.Len()),
		Static:     make([]uint8, s.Len()),
		Offsets:    append([]int32(nil), s.Offsets...),
		Incident:   append([]int32(nil), s.Incident...),
	}
	for i, sp := range s.Springs {
		t.Springs[i] = SpringRecord{First: sp.First, Second: sp.Second, RestLength: sp.RestLength}
	}
	for i, p := range s.Initial {
		t.Persistent[i] = PersistentPoint{InitX: p.X, InitY: p.Y}
		if s.Static[i] {
			t.Static[i] = 1
		}
	}
	return t
}

// PointCount returns the number of points in the topology.
func (t *Topology) PointCount() int { return len(t.Persistent) }

// Validate checks that every index in the topology is in range.
func (t *Topology) Validate() error {
	n := int32(len(t.Persistent))
	if len(t.Static) != len(t.Persistent) || len(t.Offsets) != len(t.Persistent)+1 {
		return fmt.Errorf("solver: topology arrays disagree: %d points, %d static flags, %d offsets",
			n, len(t.Static), len(t.Offsets))
	}
	for i, sp := range t.Springs {
		if sp.First < 0 || sp.First >= n || sp.Second < 0 || sp.Second >= n {
			return fmt.Errorf("solver: spring %d references (%d, %d) outside %d points", i, sp.First, sp.Second, n)
		}
	}
	if last := t.Offsets[len(t.Offsets)-1]; int(last) != len(t.Incident) {
		return fmt.Errorf("solver: adjacency ends at %d but holds %d entries", last, len(t.Incident))
	}
	for _, si := range t.Incident {
		if si < 0 || int(si) >= len(t.Springs) {
			return fmt.Errorf("solver: adjacency references spring %d of %d", si, len(t.Springs))
		}
	}
	return nil
}

// Dispatch is one solver request.
type Dispatch struct {
	Frame  uint64
	Params Params
	Points []PointInput
}

// EncodePointInputs appends the wire form of points to dst.
func EncodePointInputs(dst []byte, points []PointInput) ([]byte, error) {
	return binary.Append(dst, binary.LittleEndian, points)
}

// DecodePointInputs fills points from data.
func DecodePointInputs(data []byte, points []PointInput) error {
	return decodeExact(data, points, len(points)*PointInputSize)
}

// EncodeSprings appends the wire form of springs to dst.
func EncodeSprings(dst []byte, springs []SpringRecord) ([]byte, error) {
	return binary.Append(dst, binary.LittleEndian, springs)
}

// DecodeSprings fills springs from data.
func DecodeSprings(data []byte, springs []SpringRecord) error {
	return decodeExact(data, springs, len(springs)*SpringRecordSize)
}

// EncodePersistent appends the wire form of persistent points to dst.
func EncodePersistent(dst []byte, points []PersistentPoint) ([]byte, error) {
	return binary.Append(dst, binary.LittleEndian, points)
}

// DecodePersistent fills points from data.
func DecodePersistent(data []byte, points []PersistentPoint) error {
	return decodeExact(data, points, len(points)*PersistentPointSize)
}

// EncodeResults appends the wire form of results to dst.
func EncodeResults(dst []byte, results []PointResult) ([]byte, error) {
	return binary.Append(dst, binary.LittleEndian, results)
}

// DecodeResults fills results from data.
func DecodeResults(data []byte, results []PointResult) error {
	return decodeExact(data, results, len(results)*PointResultSize)
}

// EncodeParams appends the wire form of p to dst.
func EncodeParams(dst []byte, p Params) ([]byte, error) {
	return binary.Append(dst, binary.LittleEndian, &p)
}

// DecodeParams reads Params from data.
func DecodeParams(data []byte) (Params, error) {
	var p Params
	err := decodeExact(data, &p, ParamsSize)
	return p, err
}

func decodeExact(data []byte, v any, want int) error {
	if len(data) != want {
		return fmt.Errorf("solver: decode %T: got %d bytes, want %d", v, len(data), want)
	}
	if _, err := binary.Decode(data, binary.LittleEndian, v); err != nil {
		return fmt.Errorf("solver: decode %T: %w", v, err)
	}
	return nil
}
