package main

import (
	"github.com/iota-uz/org-import/modules/orgimport/domain/record"
	"github.com/iota-uz/org-import/modules/orgimport/services"
)

type planCounts struct {
	Departments int `json:"departments"`
	Positions   int `json:"positions"`
	Duplicates  int `json:"duplicates"`
	Resolved    int `json:"resolved"`
	Items       int `json:"items"`
	Creates     int `json:"creates"`
	Updates     int `json:"updates"`
}

type runCounts struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

type summary struct {
	Status       string                   `json:"status"`
	RunID        string                   `json:"run_id,omitempty"`
	TenantID     string                   `json:"tenant_id,omitempty"`
	Apply        bool                     `json:"apply"`
	Counts       planCounts               `json:"counts"`
	Run          *runCounts               `json:"run,omitempty"`
	Errors       []record.ValidationError `json:"errors"`
	Warnings     []record.ValidationError `json:"warnings"`
	Duplicates   []record.DuplicateEntry  `json:"duplicates,omitempty"`
	ManifestPath string                   `json:"manifest_path,omitempty"`
}

const (
	statusValid     = "valid"
	statusInvalid   = "invalid"
	statusDryRun    = "dry_run"
	statusApplied   = "applied"
	statusPartial   = "partial"
	statusCancelled = "cancelled"
)

func summarize(status string, wb *record.Workbook, plan *services.Plan) summary {
	s := summary{
		Status:   status,
		Errors:   record.Errors(plan.Errors),
		Warnings: plan.Warnings(),
	}
	if s.Errors == nil {
		s.Errors = []record.ValidationError{}
	}
	if s.Warnings == nil {
		s.Warnings = []record.ValidationError{}
	}
	s.Counts.Departments = len(wb.Departments)
	s.Counts.Positions = len(wb.Positions)
	s.Counts.Duplicates = len(plan.Duplicates)
	s.Counts.Resolved = len(plan.Resolutions)
	s.Counts.Items = len(plan.Items)
	s.Counts.Creates = plan.Creates
	s.Counts.Updates = plan.Updates
	if len(plan.Duplicates) > len(plan.Resolutions) {
		s.Duplicates = plan.Duplicates
	}
	return s
}
