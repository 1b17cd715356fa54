package domain

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// CPUSet is an unordered set of CPU ids, used for domain spans and LLC
// sibling masks.
type CPUSet map[int]bool

// Contains reports whether cpu is a member of s.
func (s CPUSet) Contains(cpu int) bool {
	return s[cpu]
}

// Topology is the §4.8 topology collaborator: the deadline core and
// push/pull consume domain spans, LLC sibling masks and per-CPU capacity
// read-only, never mutating them directly.
type Topology interface {
	// Domains returns the CPU sets that partition the topology into
	// scheduling domains.
	Domains() []CPUSet
	// LLCSiblings returns the LLC-sharing sibling set for cpu, including
	// cpu itself.
	LLCSiblings(cpu int) CPUSet
	// CapacityOf returns cpu's SCHED_CAPACITY_SCALE-relative capacity.
	CapacityOf(cpu int) uint32
}

// StaticTopology is a fixed, YAML-loadable Topology: no hot-plug, no
// dynamic LLC discovery, just the span/capacity/LLC facts given at
// construction time (cmd/edfsimd's topology file).
type StaticTopology struct {
	domains []CPUSet
	llc     map[int]CPUSet
	cap     map[int]uint32
}

// topologyFile is the on-disk shape of a topology YAML file: one entry per
// scheduling domain, each listing its member CPUs with their capacity and
// LLC id.
type topologyFile struct {
	Domains []struct {
		CPUs []struct {
			ID          int    `yaml:"id"`
			Capacity    uint32 `yaml:"capacity"`
			RawCapacity uint32 `yaml:"rawCapacity"`
			LLCID       int    `yaml:"llcId"`
		} `yaml:"cpus"`
	} `yaml:"domains"`
}

// ParseTopology decodes a topology YAML document into a StaticTopology and
// the per-domain CPUInfo lists needed to construct one domain.Domain per
// entry (cmd/edfsimd builds one Domain per topologyFile.Domains entry).
func ParseTopology(data []byte) (*StaticTopology, [][]CPUInfo, error) {
	var file topologyFile

	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, nil, fmt.Errorf("parse topology: %w", err)
	}

	t := &StaticTopology{
		llc: make(map[int]CPUSet),
		cap: make(map[int]uint32),
	}

	domainInfos := make([][]CPUInfo, 0, len(file.Domains))

	llcGroups := make(map[int]CPUSet)

	for _, d := range file.Domains {
		span := make(CPUSet, len(d.CPUs))
		infos := make([]CPUInfo, 0, len(d.CPUs))

		for _, c := range d.CPUs {
			span[c.ID] = true
			t.cap[c.ID] = c.Capacity

			if llcGroups[c.LLCID] == nil {
				llcGroups[c.LLCID] = make(CPUSet)
			}

			llcGroups[c.LLCID][c.ID] = true

			infos = append(infos, CPUInfo{
				ID:          c.ID,
				Capacity:    c.Capacity,
				RawCapacity: c.RawCapacity,
				LLCID:       c.LLCID,
				Online:      true,
			})
		}

		t.domains = append(t.domains, span)
		domainInfos = append(domainInfos, infos)
	}

	for _, group := range llcGroups {
		for cpu := range group {
			t.llc[cpu] = group
		}
	}

	return t, domainInfos, nil
}

// Domains implements Topology.
func (t *StaticTopology) Domains() []CPUSet {
	return t.domains
}

// LLCSiblings implements Topology.
func (t *StaticTopology) LLCSiblings(cpu int) CPUSet {
	if siblings, ok := t.llc[cpu]; ok {
		return siblings
	}

	return CPUSet{cpu: true}
}

// CapacityOf implements Topology.
func (t *StaticTopology) CapacityOf(cpu int) uint32 {
	return t.cap[cpu]
}
