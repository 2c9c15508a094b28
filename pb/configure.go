package pb

import "google.golang.org/protobuf/encoding/protowire"

// ProfType selects whether the scheduler attaches a sampling profiler to
// running commands.
type ProfType int32

const (
	ProfDisabled   ProfType = 0
	ProfSimpleProf ProfType = 1
)

// ProfilerCfg configures the sampling profiler (C4).
type ProfilerCfg struct {
	ProfType       ProfType
	SamplingPeriod uint64 // milliseconds
}

func (c ProfilerCfg) marshal() []byte {
	var b []byte
	b = putVarint(b, 1, uint64(c.ProfType))
	b = putVarint(b, 2, c.SamplingPeriod)
	return b
}

func unmarshalProfilerCfg(buf []byte) (ProfilerCfg, error) {
	var c ProfilerCfg
	fields, err := parseFields(buf)
	if err != nil {
		return c, err
	}
	for _, f := range fields {
		switch f.num {
		case 1:
			c.ProfType = ProfType(f.i32())
		case 2:
			c.SamplingPeriod = f.u64
		}
	}
	return c, nil
}

// Ulimit is one resource limit applied to a Docker-backed command.
type Ulimit struct {
	Name string
	Soft uint64
	Hard uint64
}

func (u Ulimit) marshal() []byte {
	var b []byte
	b = putString(b, 1, u.Name)
	b = putVarint(b, 2, u.Soft)
	b = putVarint(b, 3, u.Hard)
	return b
}

func unmarshalUlimit(buf []byte) (Ulimit, error) {
	var u Ulimit
	fields, err := parseFields(buf)
	if err != nil {
		return u, err
	}
	for _, f := range fields {
		switch f.num {
		case 1:
			u.Name = f.str()
		case 2:
			u.Soft = f.u64
		case 3:
			u.Hard = f.u64
		}
	}
	return u, nil
}

// CfgLocal selects the local process executor backend; it has no fields.
type CfgLocal struct{}

// CfgDocker selects the Docker executor backend.
type CfgDocker struct {
	ImageName        string
	AdditionalMounts map[string]string
	Ulimits          []Ulimit
	MacAddress       string
}

func (c CfgDocker) marshal() []byte {
	var b []byte
	b = putString(b, 1, c.ImageName)
	for k, v := range c.AdditionalMounts {
		entry := putString(nil, 1, k)
		entry = putString(entry, 2, v)
		b = putMessage(b, 2, entry)
	}
	for _, u := range c.Ulimits {
		b = putMessage(b, 3, u.marshal())
	}
	b = putString(b, 4, c.MacAddress)
	return b
}

func unmarshalCfgDocker(buf []byte) (CfgDocker, error) {
	var c CfgDocker
	fields, err := parseFields(buf)
	if err != nil {
		return c, err
	}
	for _, f := range fields {
		switch f.num {
		case 1:
			c.ImageName = f.str()
		case 2:
			entryFields, err := parseFields(f.buf)
			if err != nil {
				return c, err
			}
			var k, v string
			for _, ef := range entryFields {
				switch ef.num {
				case 1:
					k = ef.str()
				case 2:
					v = ef.str()
				}
			}
			if c.AdditionalMounts == nil {
				c.AdditionalMounts = make(map[string]string)
			}
			c.AdditionalMounts[k] = v
		case 3:
			u, err := unmarshalUlimit(f.buf)
			if err != nil {
				return c, err
			}
			c.Ulimits = append(c.Ulimits, u)
		case 4:
			c.MacAddress = f.str()
		}
	}
	return c, nil
}

// ConfigureSmelt is the controller's configuration record (C6/C8): the
// smelt_root, job-slot budget, profiler settings and executor backend
// selection (oneof Local/Docker).
type ConfigureSmelt struct {
	SmeltRoot string
	JobSlots  uint64
	ProfCfg   ProfilerCfg
	TestOnly  bool
	Silent    bool

	// Exactly one of Local/Docker is set.
	Local  *CfgLocal
	Docker *CfgDocker
}

// Marshal encodes c into Smelt's wire format.
func (c ConfigureSmelt) Marshal() []byte {
	var b []byte
	b = putString(b, 1, c.SmeltRoot)
	b = putVarint(b, 2, c.JobSlots)
	if profBody := c.ProfCfg.marshal(); len(profBody) > 0 {
		b = putMessage(b, 3, profBody)
	}
	b = putBool(b, 4, c.TestOnly)
	b = putBool(b, 5, c.Silent)
	switch {
	case c.Docker != nil:
		b = protowire.AppendTag(b, 11, protowire.BytesType)
		b = protowire.AppendBytes(b, c.Docker.marshal())
	case c.Local != nil:
		// CfgLocal has no fields; still emit an explicit empty message so
		// round-tripping distinguishes "configured local" from "no
		// executor configured yet".
		b = protowire.AppendTag(b, 10, protowire.BytesType)
		b = protowire.AppendBytes(b, nil)
	}
	return b
}

// UnmarshalConfigureSmelt decodes buf into a ConfigureSmelt, leaving unset
// scalar fields at their protobuf default.
func UnmarshalConfigureSmelt(buf []byte) (ConfigureSmelt, error) {
	var c ConfigureSmelt
	fields, err := parseFields(buf)
	if err != nil {
		return c, err
	}
	for _, f := range fields {
		switch f.num {
		case 1:
			c.SmeltRoot = f.str()
		case 2:
			c.JobSlots = f.u64
		case 3:
			pc, err := unmarshalProfilerCfg(f.buf)
			if err != nil {
				return c, err
			}
			c.ProfCfg = pc
		case 4:
			c.TestOnly = f.boolean()
		case 5:
			c.Silent = f.boolean()
		case 10:
			c.Local = &CfgLocal{}
		case 11:
			d, err := unmarshalCfgDocker(f.buf)
			if err != nil {
				return c, err
			}
			c.Docker = &d
		}
	}
	return c, nil
}
