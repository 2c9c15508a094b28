// Package yamlcmd reads and writes the command-list YAML format (spec.md
// §6): a top-level sequence of commands, the wire format external rule
// systems lower their target graphs into before handing them to the
// controller. Grounded on the retrieval pack's vsavkov-kilroy repo, which
// reads its own target/rule definitions with gopkg.in/yaml.v3 the same
// way -- the teacher itself has no YAML reader (it uses textproto), so
// this package follows the pack's nearest analogue instead.
package yamlcmd

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/silogy-io/smelt"
)

type runtimeDoc struct {
	NumCPUs     int               `yaml:"num_cpus"`
	MaxMemoryMB int64             `yaml:"max_memory_mb"`
	Timeout     int64             `yaml:"timeout"`
	Env         map[string]string `yaml:"env,omitempty"`
}

type commandDoc struct {
	Name           string     `yaml:"name"`
	TargetType     string     `yaml:"target_type"`
	Script         []string   `yaml:"script"`
	Dependencies   []string   `yaml:"dependencies,omitempty"`
	DependentFiles []string   `yaml:"dependent_files,omitempty"`
	Outputs        []string   `yaml:"outputs,omitempty"`
	Runtime        runtimeDoc `yaml:"runtime"`
	WorkingDir     string     `yaml:"working_dir,omitempty"`
	OnFailure      string     `yaml:"on_failure,omitempty"`
	Tags           []string   `yaml:"tags,omitempty"`
	Description    string     `yaml:"description,omitempty"`
}

// Decode parses a command-list YAML document into Commands. smeltRoot is
// substituted as the default working_dir for commands that don't declare
// their own, per spec.md §6.
func Decode(doc []byte, smeltRoot string) ([]smelt.Command, error) {
	var docs []commandDoc
	if err := yaml.Unmarshal(doc, &docs); err != nil {
		return nil, fmt.Errorf("yamlcmd: malformed command list: %w", err)
	}
	cmds := make([]smelt.Command, 0, len(docs))
	for _, d := range docs {
		tt, err := smelt.ParseTargetType(d.TargetType)
		if err != nil {
			return nil, fmt.Errorf("yamlcmd: command %q: %w", d.Name, err)
		}
		workingDir := d.WorkingDir
		if workingDir == "" {
			workingDir = smeltRoot
		}
		cmds = append(cmds, smelt.Command{
			Name:           d.Name,
			TargetType:     tt,
			Script:         d.Script,
			Dependencies:   d.Dependencies,
			DependentFiles: d.DependentFiles,
			Outputs:        d.Outputs,
			Runtime: smelt.Runtime{
				NumCPUs:     d.Runtime.NumCPUs,
				MaxMemoryMB: d.Runtime.MaxMemoryMB,
				TimeoutS:    d.Runtime.Timeout,
				Env:         d.Runtime.Env,
			},
			WorkingDir:  workingDir,
			OnFailure:   d.OnFailure,
			Tags:        d.Tags,
			Description: d.Description,
		})
	}
	return cmds, nil
}

// Encode lowers Commands back to the command-list YAML format, the
// inverse of Decode, so that Decode(Encode(cmds)) reproduces the same
// command set (spec.md §8 round-trip property).
func Encode(cmds []smelt.Command) ([]byte, error) {
	docs := make([]commandDoc, 0, len(cmds))
	for _, c := range cmds {
		docs = append(docs, commandDoc{
			Name:           c.Name,
			TargetType:     c.TargetType.String(),
			Script:         c.Script,
			Dependencies:   c.Dependencies,
			DependentFiles: c.DependentFiles,
			Outputs:        c.Outputs,
			Runtime: runtimeDoc{
				NumCPUs:     c.Runtime.NumCPUs,
				MaxMemoryMB: c.Runtime.MaxMemoryMB,
				Timeout:     c.Runtime.TimeoutS,
				Env:         c.Runtime.Env,
			},
			WorkingDir:  c.WorkingDir,
			OnFailure:   c.OnFailure,
			Tags:        c.Tags,
			Description: c.Description,
		})
	}
	return yaml.Marshal(docs)
}
