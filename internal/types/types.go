// Package types provides common type definitions for the crypto temple service.
package types

import (
	"fmt"
	"time"
)

// Sentinel display values shared by the fortune deriver and the snapshot fetcher.
const (
	// UnknownValue marks a date or age that could not be determined
	UnknownValue = "未知"
	// ChaosEra is the cyber-bazi label for an unknown birth date
	ChaosEra = "混沌纪元"
	// BalanceLoading is shown when the balance could not be read
	BalanceLoading = "读取中..."
	// UndetectableBazi is the cyber-bazi label of a degraded snapshot
	UndetectableBazi = "无法探测"
	// TagUnstable is the only tag of a degraded snapshot
	TagUnstable = "连接不稳定"
)

// FiveElements holds five integer percentages derived from an address or
// returned by a divination.
type FiveElements struct {
	Gold  int `json:"gold"`
	Wood  int `json:"wood"`
	Water int `json:"water"`
	Fire  int `json:"fire"`
	Earth int `json:"earth"`
}

// Sum returns the sum of the five percentages. Rounding means it is not
// always exactly 100.
func (f FiveElements) Sum() int {
	return f.Gold + f.Wood + f.Water + f.Fire + f.Earth
}

// PnLStatus is the profit/loss label shown on a snapshot
type PnLStatus string

const (
	// PnLProfit labels a profitable wallet
	PnLProfit PnLStatus = "盈利"
	// PnLLoss labels a losing wallet
	PnLLoss PnLStatus = "亏损"
	// PnLChaos labels a wallet whose snapshot could not be read
	PnLChaos PnLStatus = "混沌"
)

// WalletSnapshot is the derived profile of a connected wallet
type WalletSnapshot struct {
	Address          string       `json:"address"`
	FirstTxDate      string       `json:"firstTxDate"`      // YYYY-MM-DD or 未知
	WalletAge        string       `json:"walletAge"`        // "X年Y天", "Y天" or 未知
	Balance          string       `json:"balance"`          // "1.2345 ETH" or 读取中...
	TransactionCount uint64       `json:"transactionCount"` // outgoing nonce
	PnLStatus        PnLStatus    `json:"pnlStatus"`
	Tags             []string     `json:"tags"`
	CyberBazi        string       `json:"cyberBazi"`
	ElementalBase    FiveElements `json:"elementalBase"`
	FetchedAt        time.Time    `json:"fetchedAt"`
	Degraded         bool         `json:"degraded,omitempty"`
}

// ProjectCategory is the closed set of project kinds a user may divine on
type ProjectCategory string

const (
	// CategoryPrimaryMeme is an early-stage meme token
	CategoryPrimaryMeme ProjectCategory = "一级市场 (土狗/Meme)"
	// CategorySecondary is a listed mainstream token
	CategorySecondary ProjectCategory = "二级市场 (主流币)"
	// CategoryOTC is an over-the-counter trade
	CategoryOTC ProjectCategory = "OTC / 场外"
	// CategoryAirdrop is airdrop farming
	CategoryAirdrop ProjectCategory = "空投交互"
	// CategoryStaking is staking or DeFi yield
	CategoryStaking ProjectCategory = "质押 / DeFi"
	// CategoryNFTMint is an NFT mint
	CategoryNFTMint ProjectCategory = "NFT 铸造"
)

// ProjectCategories lists every valid category in display order
var ProjectCategories = []ProjectCategory{
	CategoryPrimaryMeme,
	CategorySecondary,
	CategoryOTC,
	CategoryAirdrop,
	CategoryStaking,
	CategoryNFTMint,
}

// IsValid reports whether c is one of the six categories
func (c ProjectCategory) IsValid() bool {
	for _, v := range ProjectCategories {
		if c == v {
			return true
		}
	}
	return false
}

// ProjectInfo describes the venture the user asks about
type ProjectInfo struct {
	Name            string          `json:"name"`
	Type            ProjectCategory `json:"type"`
	TransactionTime time.Time       `json:"transactionTime"` // target time of the trade
	FounderInfo     string          `json:"founderInfo,omitempty"`
}

// DivinationResult is the structured answer of the oracle
type DivinationResult struct {
	HexagramName string       `json:"hexagramName"`
	Probability  int          `json:"probability"` // 0..100
	Summary      string       `json:"summary"`
	Analysis     string       `json:"analysis"`
	Advice       string       `json:"advice"`
	FiveElements FiveElements `json:"fiveElements"`
}

// Feedback is the user's verdict after the notification fired
type Feedback string

const (
	// FeedbackAccurate means the reading came true
	FeedbackAccurate Feedback = "accurate"
	// FeedbackInaccurate means the reading missed or the user did not trade
	FeedbackInaccurate Feedback = "inaccurate"
)

// IsValid reports whether f is a known verdict
func (f Feedback) IsValid() bool {
	return f == FeedbackAccurate || f == FeedbackInaccurate
}

// HistoryRecord is one persisted divination
type HistoryRecord struct {
	ID         string           `json:"id"`        // creation time in unix millis, decimal
	Timestamp  int64            `json:"timestamp"` // creation time in unix millis
	Project    ProjectInfo      `json:"project"`
	Result     DivinationResult `json:"result"`
	IsNotified bool             `json:"isNotified"`
	Feedback   Feedback         `json:"feedback,omitempty"`
}

// TriggerTime returns the moment the record becomes due for notification
func (r HistoryRecord) TriggerTime() time.Time {
	return r.Project.TransactionTime
}

// Currency is a donation currency
type Currency string

const (
	// CurrencyETH is native ether
	CurrencyETH Currency = "ETH"
	// CurrencyUSDT is Tether USD on Ethereum mainnet
	CurrencyUSDT Currency = "USDT"
	// CurrencyUSDC is USD Coin on Ethereum mainnet
	CurrencyUSDC Currency = "USDC"
)

// DonationStatus tracks a donation through confirmation
type DonationStatus string

const (
	// DonationPending means the transaction was broadcast but not mined
	DonationPending DonationStatus = "pending"
	// DonationConfirmed means the transaction succeeded on chain
	DonationConfirmed DonationStatus = "confirmed"
	// DonationFailed means the transaction reverted or could not be tracked
	DonationFailed DonationStatus = "failed"
)

// Donation is a merit offering sent to the temple receiver
type Donation struct {
	ID          string         `json:"id"`
	Currency    Currency       `json:"currency"`
	Amount      string         `json:"amount"`
	To          string         `json:"to"`
	TxHash      string         `json:"txHash"`
	Status      DonationStatus `json:"status"`
	CreatedAt   time.Time      `json:"createdAt"`
	ConfirmedAt *time.Time     `json:"confirmedAt,omitempty"`
}

// Notification is a user-facing alert produced by the scanner or the
// payment tracker.
type Notification struct {
	Kind     string    `json:"kind"`
	Title    string    `json:"title"`
	Body     string    `json:"body"`
	RecordID string    `json:"recordId,omitempty"`
	SentAt   time.Time `json:"sentAt"`
}

// Notification kinds
const (
	NotificationVerification = "verification"
	NotificationDonation     = "donation"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
