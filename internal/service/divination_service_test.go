package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/crypto-temple/internal/errors"
	"github.com/crypto-temple/internal/llm"
	"github.com/crypto-temple/internal/storage"
	"github.com/crypto-temple/internal/types"
)

const oracleReply = "好的，施主，这是卦象：\n```json\n" + `{
  "hexagramName": "乾为天",
  "probability": 88,
  "summary": "飞龙在天",
  "analysis": "金水相生",
  "advice": "顺势而为",
  "fiveElements": {"gold": 30, "wood": 10, "water": 30, "fire": 15, "earth": 15}
}` + "\n```\n愿施主发财。"

type countingMetrics struct {
	outcomes map[string]int
}

func (m *countingMetrics) IncDivinations(outcome string) {
	if m.outcomes == nil {
		m.outcomes = map[string]int{}
	}
	m.outcomes[outcome]++
}

type divinationFixture struct {
	svc     *DivinationService
	fetcher *staticFetcher
	history *HistoryService
	ledger  *recordingLedger
	metrics *countingMetrics
	slept   []time.Duration
}

func newDivinationFixture(oracle llm.Completer) *divinationFixture {
	f := &divinationFixture{
		fetcher: &staticFetcher{},
		history: NewHistoryService(storage.NewMemoryHistoryStore(), fixedClock),
		ledger:  &recordingLedger{},
		metrics: &countingMetrics{},
	}
	f.svc = NewDivinationService(f.fetcher, oracle, f.history,
		WithDivinationClock(fixedClock),
		WithLedger(f.ledger),
		WithDivinationMetrics(f.metrics),
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			f.slept = append(f.slept, d)
			return ctx.Err()
		}),
	)
	return f
}

func newOracleFixture(m *mockCompleter) *divinationFixture {
	return newDivinationFixture(m)
}

func TestValidateProject(t *testing.T) {
	valid := testProject("PEPE")

	tests := []struct {
		name   string
		mutate func(*types.ProjectInfo)
		field  string
	}{
		{"valid", func(*types.ProjectInfo) {}, ""},
		{"blank name", func(p *types.ProjectInfo) { p.Name = "   " }, "name"},
		{"unknown category", func(p *types.ProjectInfo) { p.Type = "期货" }, "type"},
		{"missing time", func(p *types.ProjectInfo) { p.TransactionTime = time.Time{} }, "transactionTime"},
		{"past time", func(p *types.ProjectInfo) { p.TransactionTime = testNow.Add(-2 * time.Minute) }, "transactionTime"},
		{"current minute", func(p *types.ProjectInfo) { p.TransactionTime = testNow.Truncate(time.Minute) }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			err := ValidateProject(p, testNow)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			cat := apperrors.Categorize(err)
			assert.Equal(t, "INVALID_PROJECT", cat.Code)
			assert.Equal(t, tt.field, cat.Details["field"])
		})
	}
}

func TestParseResult(t *testing.T) {
	got, err := ParseResult(oracleReply)
	require.NoError(t, err)
	assert.Equal(t, "乾为天", got.HexagramName)
	assert.Equal(t, 88, got.Probability)
	assert.Equal(t, types.FiveElements{Gold: 30, Wood: 10, Water: 30, Fire: 15, Earth: 15}, got.FiveElements)

	tests := []struct {
		reply string
		want  int
	}{
		{`{"probability": 150}`, 100},
		{`{"probability": -3}`, 0},
		{`{"probability": 66.6}`, 67},
	}
	for _, tt := range tests {
		got, err := ParseResult(tt.reply)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got.Probability, tt.reply)
	}

	_, err = ParseResult("天机不可泄露")
	assert.ErrorIs(t, err, llm.ErrNoJSON)

	_, err = ParseResult(`{"probability": "high"}`)
	assert.Error(t, err)
}

func TestDivinationService_NoOracle(t *testing.T) {
	f := newDivinationFixture(nil)

	result, placeholder, err := f.svc.Consult(context.Background(), &types.WalletSnapshot{Address: testAddress}, testProject("PEPE"))
	require.NoError(t, err)
	assert.True(t, placeholder)
	assert.Equal(t, 50, result.Probability)
	assert.Equal(t, "混沌卦", result.HexagramName)
	assert.Equal(t, types.FiveElements{Gold: 20, Wood: 20, Water: 20, Fire: 20, Earth: 20}, result.FiveElements)
	assert.Equal(t, []time.Duration{DefaultDivinationDelay}, f.slept)
	assert.Equal(t, 1, f.metrics.outcomes[OutcomePlaceholder])
}

func TestDivinationService_OracleReply(t *testing.T) {
	oracle := &mockCompleter{reply: oracleReply}
	f := newOracleFixture(oracle)

	wallet, err := f.fetcher.Snapshot(context.Background(), testAddress)
	require.NoError(t, err)

	result, placeholder, err := f.svc.Consult(context.Background(), wallet, testProject("PEPE"))
	require.NoError(t, err)
	assert.False(t, placeholder)
	assert.Equal(t, "乾为天", result.HexagramName)

	assert.Equal(t, SystemPrompt, oracle.system)
	assert.Contains(t, oracle.user, testAddress)
	assert.Contains(t, oracle.user, "PEPE (一级市场 (土狗/Meme))")
	assert.Contains(t, oracle.user, "2024-06-01T13:00")
	assert.Equal(t, 1, f.metrics.outcomes[OutcomeOracle])
}

func TestDivinationService_OracleFailures(t *testing.T) {
	tests := []struct {
		name   string
		oracle *mockCompleter
	}{
		{"transport error", &mockCompleter{err: errors.New("connection refused")}},
		{"no json", &mockCompleter{reply: "贫道今日不宜算卦"}},
		{"broken json", &mockCompleter{reply: `{"hexagramName": "乾"`}},
		{"wrong types", &mockCompleter{reply: `{"hexagramName": 42}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOracleFixture(tt.oracle)
			result, placeholder, err := f.svc.Consult(context.Background(), &types.WalletSnapshot{}, testProject("PEPE"))
			require.NoError(t, err, "oracle failures never surface")
			assert.True(t, placeholder)
			assert.Equal(t, PlaceholderResult(), result)
			assert.Equal(t, 1, tt.oracle.calls, "no retry")
		})
	}
}

func TestDivinationService_CancelledDuringDelay(t *testing.T) {
	oracle := &mockCompleter{reply: oracleReply}
	f := newOracleFixture(oracle)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := f.svc.Consult(ctx, &types.WalletSnapshot{}, testProject("PEPE"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, oracle.calls)
}

func TestDivinationService_Divine(t *testing.T) {
	oracle := &mockCompleter{reply: oracleReply}
	f := newOracleFixture(oracle)
	ctx := context.Background()

	project := testProject("  PEPE  ")
	rec, err := f.svc.Divine(ctx, testAddress, project)
	require.NoError(t, err)

	assert.Equal(t, "PEPE", rec.Project.Name)
	assert.Equal(t, "乾为天", rec.Result.HexagramName)
	assert.False(t, rec.IsNotified)

	records, err := f.history.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, rec.ID, records[0].ID)

	require.Len(t, f.ledger.divinations, 1)
	event := f.ledger.divinations[0]
	assert.Equal(t, rec.ID, event.RecordID)
	assert.Equal(t, testAddress, event.Address)
	assert.False(t, event.Placeholder)
}

func TestDivinationService_DivineValidatesFirst(t *testing.T) {
	oracle := &mockCompleter{reply: oracleReply}
	f := newOracleFixture(oracle)

	project := testProject("PEPE")
	project.TransactionTime = testNow.Add(-time.Hour)

	_, err := f.svc.Divine(context.Background(), testAddress, project)
	require.Error(t, err)
	assert.True(t, apperrors.IsUserError(err))
	assert.Equal(t, int32(0), f.fetcher.calls.Load(), "no wallet read for an invalid form")
	assert.Equal(t, 0, oracle.calls)
	assert.Empty(t, f.slept)
}

func TestDivinationService_LedgerFailureIgnored(t *testing.T) {
	f := newDivinationFixture(nil)
	f.ledger.err = errors.New("clickhouse down")

	rec, err := f.svc.Divine(context.Background(), testAddress, testProject("PEPE"))
	require.NoError(t, err)
	assert.Equal(t, "混沌卦", rec.Result.HexagramName)
}

func TestBuildPrompt(t *testing.T) {
	wallet, _ := (&staticFetcher{}).Snapshot(context.Background(), testAddress)
	project := testProject("PEPE")
	project.FounderInfo = ""

	prompt := BuildPrompt(wallet, project)

	for _, want := range []string{
		"【施主命理 (链上八字)】",
		"- 钱包地址：" + testAddress,
		"- 降世时辰：2021-05-04 (辛丑年 · 农历5月 · 链上降世)",
		"- 修行道行：3年28天",
		"- 业力纠缠：42 次交互",
		"- 功德存量：1.2345 ETH",
		"- 先天五行：金18% 木23% 水25% 火20% 土15%",
		"【所问机缘】",
		"- 预计交易吉时：2024-06-01T13:00 (重点判断此时辰吉凶)",
		"- 背景信息：无",
		"【任务】",
		"【重要要求】",
		"【JSON 格式模板】",
		`"hexagramName": "卦象名"`,
	} {
		assert.Contains(t, prompt, want)
	}
	assert.True(t, strings.HasSuffix(strings.TrimSpace(prompt), "}"))
}
