package service

import (
	"fmt"
	"strings"

	"github.com/crypto-temple/internal/types"
)

// SystemPrompt pins the model to bare JSON output
const SystemPrompt = "你是一个只输出标准 JSON 格式的 API 接口，严禁输出任何多余文本。"

// TransactionTimeLayout is how target times are written into prompts
const TransactionTimeLayout = "2006-01-02T15:04"

const resultTemplate = `{
  "hexagramName": "卦象名",
  "probability": 88,
  "summary": "四字判词",
  "analysis": "详细分析...",
  "advice": "行动建议...",
  "fiveElements": { "gold": 20, "wood": 20, "water": 20, "fire": 20, "earth": 20 }
}`

// BuildPrompt renders the user message for a divination
func BuildPrompt(wallet *types.WalletSnapshot, project types.ProjectInfo) string {
	founder := strings.TrimSpace(project.FounderInfo)
	if founder == "" {
		founder = "无"
	}
	e := wallet.ElementalBase

	var b strings.Builder
	b.WriteString("角色：你是一位居住在赛博空间的【大加密寺】财神，精通《周易》、梅花易数与 Web3 区块链技术。\n\n")

	b.WriteString("【施主命理 (链上八字)】\n")
	fmt.Fprintf(&b, "- 钱包地址：%s\n", wallet.Address)
	fmt.Fprintf(&b, "- 降世时辰：%s (%s)\n", wallet.FirstTxDate, wallet.CyberBazi)
	fmt.Fprintf(&b, "- 修行道行：%s\n", wallet.WalletAge)
	fmt.Fprintf(&b, "- 业力纠缠：%d 次交互\n", wallet.TransactionCount)
	fmt.Fprintf(&b, "- 功德存量：%s\n", wallet.Balance)
	fmt.Fprintf(&b, "- 先天五行：金%d%% 木%d%% 水%d%% 火%d%% 土%d%%\n\n", e.Gold, e.Wood, e.Water, e.Fire, e.Earth)

	b.WriteString("【所问机缘】\n")
	fmt.Fprintf(&b, "- 项目名称：%s (%s)\n", project.Name, project.Type)
	fmt.Fprintf(&b, "- 预计交易吉时：%s (重点判断此时辰吉凶)\n", project.TransactionTime.Format(TransactionTimeLayout))
	fmt.Fprintf(&b, "- 背景信息：%s\n\n", founder)

	b.WriteString("【任务】\n")
	b.WriteString("请根据施主的\"先天五行\"是否与项目属性相生相克，并结合\"交易时间\"的时辰吉凶，预测吉凶。\n\n")

	b.WriteString("【重要要求】\n")
	b.WriteString("1. 必须只返回纯 JSON 字符串。\n")
	b.WriteString("2. 不要包含 markdown 标记 (如 ```json )。\n")
	b.WriteString("3. 不要有任何开场白或结束语，直接以 { 开始，以 } 结束。\n\n")

	b.WriteString("【JSON 格式模板】\n")
	b.WriteString(resultTemplate)
	b.WriteString("\n")
	return b.String()
}
