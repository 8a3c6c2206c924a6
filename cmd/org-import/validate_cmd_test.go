package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunValidate_Valid(t *testing.T) {
	dir := t.TempDir()
	depts := writeCSV(t, dir, "departments.csv", "code,name,parent_code", "HR,Human Resources,", "HR-REC,Recruiting,HR")

	var out bytes.Buffer
	err := runValidate(context.Background(), &out, validateOptions{input: inputOptions{departments: depts}}, quietLog())
	require.NoError(t, err)

	s := decodeSummary(t, &out)
	require.Equal(t, statusValid, s.Status)
	require.Equal(t, 2, s.Counts.Departments)
	require.Equal(t, 2, s.Counts.Creates)
	require.Empty(t, s.Errors)
}

func TestRunValidate_CycleFails(t *testing.T) {
	dir := t.TempDir()
	depts := writeCSV(t, dir, "departments.csv", "code,name,parent_code", "A,Alpha,B", "B,Beta,A")

	var out bytes.Buffer
	err := runValidate(context.Background(), &out, validateOptions{input: inputOptions{departments: depts}}, quietLog())
	require.Error(t, err)
	require.Equal(t, exitValidation, exitCode(err))

	s := decodeSummary(t, &out)
	require.Equal(t, statusInvalid, s.Status)
	require.NotEmpty(t, s.Errors)
	require.Contains(t, s.Errors[0].Message, "circular reference detected")
}

func TestRunValidate_DuplicatesNeedResolution(t *testing.T) {
	dir := t.TempDir()
	depts := writeCSV(t, dir, "departments.csv", "code,name,description",
		"HR,Human Resources,People",
		"HR ,HR,",
	)
	opts := validateOptions{input: inputOptions{departments: depts}}

	var out bytes.Buffer
	err := runValidate(context.Background(), &out, opts, quietLog())
	require.Equal(t, exitValidation, exitCode(err))
	s := decodeSummary(t, &out)
	require.Len(t, s.Duplicates, 1)

	out.Reset()
	opts.autoResolve = true
	require.NoError(t, runValidate(context.Background(), &out, opts, quietLog()))
	s = decodeSummary(t, &out)
	require.Equal(t, statusValid, s.Status)
	require.Equal(t, 1, s.Counts.Resolved)
	require.Equal(t, 1, s.Counts.Items)
	require.Empty(t, s.Duplicates)

	out.Reset()
	opts.autoResolve = false
	opts.resolve = []string{"departments:HR=keep-all"}
	err = runValidate(context.Background(), &out, opts, quietLog())
	require.Equal(t, exitValidation, exitCode(err), "keep-all leaves both rows in place")
}
