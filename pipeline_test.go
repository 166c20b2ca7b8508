package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/stretchr/testify/require"

	"opti-lambda-go/config"
)

const evalCSV = `id,numbers
1,"[1,2]"
2,"[3,NULL]"
3,
4,[]
`

const evalPlan = `
slots: {id: 0, numbers: 1}
filter:
  kind: call
  fn: greater
  children:
    - {kind: column_ref, slot: 0}
    - {kind: literal, type: int64, value: 1}
outputs:
  - name: bumped
    slot: 10
    expr:
      kind: array_map
      children:
        - kind: lambda
          params: [{slot: 100, type: int64}]
          children:
            - kind: call
              fn: add
              children:
                - {kind: column_ref, slot: 100}
                - {kind: column_ref, slot: 0}
        - {kind: column_ref, slot: 1}
`

func writeInputs(t *testing.T) (csvPath, planPath string) {
	t.Helper()
	dir := t.TempDir()
	csvPath = filepath.Join(dir, "numbers.csv")
	planPath = filepath.Join(dir, "plan.yaml")
	require.NoError(t, os.WriteFile(csvPath, []byte(evalCSV), 0o644))
	require.NoError(t, os.WriteFile(planPath, []byte(evalPlan), 0o644))
	return csvPath, planPath
}

func testConfig() *config.Config {
	return &config.Config{
		Batch: config.BatchConfig{Size: 2},
		Eval:  config.EvalConfig{Workers: 2, ConstFastPath: true, StateScope: "fragment_local"},
		Source: config.SourceConfig{
			Type: "csv",
		},
	}
}

func TestRunEvalTable(t *testing.T) {
	csvPath, planPath := writeInputs(t)
	var out bytes.Buffer
	err := runEval(context.Background(), evalRequest{
		PlanPath: planPath,
		Path:     csvPath,
		Keep:     []int{0},
		Config:   testConfig(),
	}, &out)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	require.Equal(t, []string{"id", "bumped"}, strings.Fields(lines[0]))
	require.Equal(t, []string{"2", "[5,", "NULL]"}, strings.Fields(lines[1]))
	require.Equal(t, []string{"3", "NULL"}, strings.Fields(lines[2]))
	require.Equal(t, []string{"4", "[]"}, strings.Fields(lines[3]))
}

func TestRunEvalLimit(t *testing.T) {
	csvPath, planPath := writeInputs(t)
	var out bytes.Buffer
	err := runEval(context.Background(), evalRequest{
		PlanPath:  planPath,
		Connector: "csv",
		Path:      csvPath,
		Limit:     1,
		Config:    testConfig(),
	}, &out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, []string{"bumped"}, strings.Fields(lines[0]))
}

func TestRunEvalIPC(t *testing.T) {
	csvPath, planPath := writeInputs(t)
	var out bytes.Buffer
	err := runEval(context.Background(), evalRequest{
		PlanPath: planPath,
		Path:     csvPath,
		Output:   outputIPC,
		Workers:  1,
		Config:   testConfig(),
	}, &out)
	require.NoError(t, err)

	r, err := ipc.NewReader(bytes.NewReader(out.Bytes()))
	require.NoError(t, err)
	defer r.Release()
	require.Equal(t, "bumped", r.Schema().Field(0).Name)
	rows := 0
	for r.Next() {
		rows += int(r.Record().NumRows())
	}
	require.NoError(t, r.Err())
	require.Equal(t, 3, rows)
}

func TestRunEvalErrors(t *testing.T) {
	csvPath, planPath := writeInputs(t)
	cfg := testConfig()

	err := runEval(context.Background(), evalRequest{Path: csvPath, Config: cfg}, &bytes.Buffer{})
	require.Error(t, err)

	err = runEval(context.Background(), evalRequest{PlanPath: planPath, Path: csvPath, Output: "xml", Config: cfg}, &bytes.Buffer{})
	require.Error(t, err)

	err = runEval(context.Background(), evalRequest{PlanPath: planPath, Connector: "kafka", Path: csvPath, Config: cfg}, &bytes.Buffer{})
	require.Error(t, err)

	bad := testConfig()
	bad.Eval.StateScope = "global"
	err = runEval(context.Background(), evalRequest{PlanPath: planPath, Path: csvPath, Config: bad}, &bytes.Buffer{})
	require.Error(t, err)
}
