// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// jitctl is a small demo/debug CLI for the jit core: it builds an
// in-memory demo table, translates a hand-built logical plan against it,
// and either runs the fused chain or explains whether translation
// succeeded. Grounded on the teacher's cmd/tester/main.go (cobra root
// command, viper-bound tester.toml, zap logging) - SQL parsing and a real
// planner are out of scope (spec §1), so the demo plan is built directly
// with pkg/lqp constructors instead of parsed from text.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/daviszhen/jitquery/pkg/common"
	"github.com/daviszhen/jitquery/pkg/jit"
	"github.com/daviszhen/jitquery/pkg/lqp"
	"github.com/daviszhen/jitquery/pkg/specializer"
	"github.com/daviszhen/jitquery/pkg/storage"
	"github.com/daviszhen/jitquery/pkg/util"
)

func init() {
	cobra.OnInitialize(loadConfig)
	initRunCmd()
	initExplainCmd()
}

var jitCfg = util.DefaultConfig()

var info = "jitctl"
var RootCmd = &cobra.Command{
	Use:          "jitctl",
	Short:        info,
	Long:         info,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("use jitctl --help or -h")
	},
}

var defCfgFilePaths = []string{".", "etc/jitctl"}
var cfgFileName = "jitctl.toml"

// loadConfig mirrors the teacher's tester.toml loader, but a missing
// config file is not fatal here: jitctl runs fine against
// util.DefaultConfig()'s ready-to-run defaults.
func loadConfig() {
	for _, dirPath := range defCfgFilePaths {
		fpath := filepath.Join(dirPath, cfgFileName)
		if util.FileIsValid(fpath) {
			viper.SetConfigFile(fpath)
			if err := viper.ReadInConfig(); err != nil {
				util.Error("viper load config file failed", zap.String("fpath", fpath), zap.Error(err))
				continue
			}
			bindJitOptions()
			return
		}
	}
}

func bindJitOptions() {
	jitCfg.Jit.Jit = viper.GetBool("jit.jit")
	jitCfg.Jit.JitValidate = viper.GetBool("jit.jitValidate")
	jitCfg.Jit.LazyLoad = viper.GetBool("jit.lazyLoad")
	jitCfg.Jit.Interpret = viper.GetBool("jit.interpret")
	jitCfg.Jit.JitPredicate = viper.GetBool("jit.jitPredicate")
	jitCfg.Jit.UseLoadAtomic = viper.GetBool("jit.useLoadAtomic")
}

var runInfo = "run the demo query through the jit core"
var runCmd = &cobra.Command{
	Use:   "run",
	Short: runInfo,
	Long:  runInfo,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDemo()
	},
}

var explainInfo = "print the demo logical plan and whether it translates"
var explainCmd = &cobra.Command{
	Use:   "explain",
	Short: explainInfo,
	Long:  explainInfo,
	RunE: func(cmd *cobra.Command, args []string) error {
		return explainDemo()
	},
}

func initRunCmd()     { RootCmd.AddCommand(runCmd) }
func initExplainCmd() { RootCmd.AddCommand(explainCmd) }

func explainDemo() error {
	table := buildDemoTable()
	root := buildDemoPlan(table)
	fmt.Println(root.String())

	cfg := jit.NewExecutionConfig(jitCfg)
	_, ok, err := jit.Translate(root, cfg, table, specializer.New())
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("not jittable: falls back to the non-JIT path")
		return nil
	}
	fmt.Println("jittable: translation produced a fused operator chain")
	return nil
}

func runDemo() error {
	table := buildDemoTable()
	root := buildDemoPlan(table)

	cfg := jit.NewExecutionConfig(jitCfg)
	wrapper, ok, err := jit.Translate(root, cfg, table, specializer.New())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("jitctl: demo plan did not translate (non-JIT fallback is out of scope)")
	}

	mgr := storage.NewTxnMgr()
	txn := mgr.Begin()

	out, result, err := wrapper.Run(table, &txnContext{txn: txn}, nil)
	if err != nil {
		return err
	}

	fmt.Printf("chunks=%d specialized=%d interpreted=%d rows_in=%d rows_out=%d\n",
		result.Metrics.ChunksProcessed, result.Metrics.SpecializedChunks,
		result.Metrics.InterpretedChunks, result.Metrics.RowsIn, result.Metrics.RowsOut)

	if out == nil {
		return nil
	}
	for _, chunk := range out.Chunks {
		for row := 0; row < chunk.Size; row++ {
			vals := make([]string, len(chunk.Segments))
			for i, seg := range chunk.Segments {
				vals[i] = seg.ValueAt(row).String()
			}
			fmt.Println(vals)
		}
	}
	return nil
}

// txnContext adapts storage.Txn/TxnMgr to jit.TransactionContext. A real
// SQL pipeline would track per-operator lock counts in
// OnOperatorStarted/Finished; the demo CLI has nothing to hook there.
type txnContext struct {
	txn *storage.Txn
}

func (t *txnContext) OwnTid() uint64      { return t.txn.OwnTid }
func (t *txnContext) SnapshotCid() uint64 { return t.txn.SnapshotCid }
func (t *txnContext) Aborted() bool       { return t.txn.IsAborted() }
func (t *txnContext) OnOperatorStarted()  {}
func (t *txnContext) OnOperatorFinished() {}

var _ jit.TransactionContext = (*txnContext)(nil)

// buildDemoTable constructs a two-chunk orders table: id (Int), status
// (dictionary-encoded String, eligible for value-ID pushdown), amount
// (Int). Every row is visible to any snapshot (begin_cid=0).
func buildDemoTable() *storage.Table {
	columns := []storage.ColumnDef{
		{ID: 0, Name: "id", Typ: common.Int},
		{ID: 1, Name: "status", Typ: common.String, Dictionary: true},
		{ID: 2, Name: "amount", Typ: common.Int},
	}
	table := storage.NewTable("orders", columns)

	chunk1 := demoChunk(
		[]int32{1, 2, 3, 4},
		[]string{"shipped", "pending", "shipped", "cancelled"},
		[]int32{120, 40, 260, 15},
	)
	chunk2 := demoChunk(
		[]int32{5, 6, 7},
		[]string{"shipped", "shipped", "pending"},
		[]int32{500, 80, 30},
	)
	table.AppendChunk(chunk1)
	table.AppendChunk(chunk2)
	return table
}

func demoChunk(ids []int32, statuses []string, amounts []int32) *storage.Chunk {
	idSeg := storage.NewValueSegment(common.Int, ids)
	statusSeg := storage.NewDictionarySegment(common.String, toValues(statuses))
	amountSeg := storage.NewValueSegment(common.Int, amounts)

	mvcc := storage.NewMVCCData(len(ids))
	return &storage.Chunk{
		Size:     len(ids),
		Segments: []storage.Segment{idSeg, statusSeg, amountSeg},
		MVCC:     mvcc,
	}
}

func toValues(statuses []string) []common.Value {
	out := make([]common.Value, len(statuses))
	for i, s := range statuses {
		out[i] = common.StringValue(s)
	}
	return out
}

// buildDemoPlan builds: SELECT id, amount FROM orders
// WHERE status = 'shipped' AND amount >= 100
func buildDemoPlan(table *storage.Table) *lqp.Node {
	idCol, _ := table.ColumnByID(0)
	statusCol, _ := table.ColumnByID(1)
	amountCol, _ := table.ColumnByID(2)

	scan := &lqp.Node{Kind: lqp.TableScan, TableName: table.Name}

	statusEq := lqp.BinaryExpr(lqp.Eq,
		lqp.ColumnExpr(lqp.Column{ID: statusCol.ID, Name: statusCol.Name, Typ: statusCol.Typ}),
		lqp.LiteralExpr(common.StringValue("shipped")))
	amountGe := lqp.BinaryExpr(lqp.Ge,
		lqp.ColumnExpr(lqp.Column{ID: amountCol.ID, Name: amountCol.Name, Typ: amountCol.Typ}),
		lqp.LiteralExpr(common.IntValue(100)))
	predicateExpr := lqp.BinaryExpr(lqp.And, statusEq, amountGe)

	predicate := &lqp.Node{Kind: lqp.Predicate, Children: []*lqp.Node{scan}, Expr: predicateExpr}
	validate := &lqp.Node{Kind: lqp.Validate, Children: []*lqp.Node{predicate}, ValidateForDataTable: true}

	root := &lqp.Node{
		Kind:     lqp.Projection,
		Children: []*lqp.Node{validate},
		Output: []lqp.Column{
			{ID: idCol.ID, Name: idCol.Name, Typ: idCol.Typ},
			{ID: amountCol.ID, Name: amountCol.Name, Typ: amountCol.Typ},
		},
	}
	return root
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
