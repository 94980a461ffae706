// Package catalog loads SLA policies and approval workflow definitions from a
// YAML file. The catalog is read once at startup and is immutable afterwards.
package catalog

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/viper"

	approvalmodels "auditflow/internal/approval/models"
	"auditflow/internal/approval/ports"
	slamodels "auditflow/internal/sla/models"
	"auditflow/internal/sla/policy"
	dErrors "auditflow/pkg/domain-errors"
)

// document mirrors the file layout.
type document struct {
	Policies  []*slamodels.SLAPolicy               `mapstructure:"policies"`
	Workflows []*approvalmodels.WorkflowDefinition `mapstructure:"workflows"`
}

// Catalog serves validated policies and workflows.
type Catalog struct {
	policies  *policy.InMemoryStore
	workflows map[string]*approvalmodels.WorkflowDefinition
}

var _ ports.WorkflowCatalog = (*Catalog)(nil)

// Load reads and validates the catalog file at path. The format follows the
// file extension.
func Load(path string) (*Catalog, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return fromViper(v)
}

// Parse reads a catalog from r in the given format ("yaml", "json", ...).
func Parse(r io.Reader, format string) (*Catalog, error) {
	v := viper.New()
	v.SetConfigType(format)
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Catalog, error) {
	var doc document
	if err := v.Unmarshal(&doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return build(doc)
}

func build(doc document) (*Catalog, error) {
	for _, p := range doc.Policies {
		if p != nil {
			p.Severity = slamodels.Severity(strings.ToLower(string(p.Severity)))
		}
	}
	policies, err := policy.New(doc.Policies...)
	if err != nil {
		return nil, err
	}

	workflows := make(map[string]*approvalmodels.WorkflowDefinition, len(doc.Workflows))
	for _, wf := range doc.Workflows {
		if err := wf.Validate(); err != nil {
			return nil, err
		}
		if _, dup := workflows[wf.ID]; dup {
			return nil, dErrors.New(dErrors.CodeConflict, "duplicate workflow id: "+wf.ID)
		}
		workflows[wf.ID] = wf.Clone()
	}

	return &Catalog{policies: policies, workflows: workflows}, nil
}

// Policies exposes the policy store consumed by the SLA engine.
func (c *Catalog) Policies() *policy.InMemoryStore {
	return c.policies
}

// Workflow returns a copy of the definition, or nil when unknown.
func (c *Catalog) Workflow(_ context.Context, workflowID string) (*approvalmodels.WorkflowDefinition, error) {
	return c.workflows[workflowID].Clone(), nil
}

// Workflows lists every definition ordered by ID.
func (c *Catalog) Workflows() []*approvalmodels.WorkflowDefinition {
	out := make([]*approvalmodels.WorkflowDefinition, 0, len(c.workflows))
	for _, wf := range c.workflows {
		out = append(out, wf.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
