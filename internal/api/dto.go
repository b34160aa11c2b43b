package api

import (
	"strings"
	"time"

	"github.com/gookit/validate"

	apperrors "github.com/crypto-temple/internal/errors"
	"github.com/crypto-temple/internal/types"
)

// transactionTimeLayouts are accepted for project.transactionTime; the
// short form is what a datetime-local input submits and is read as UTC.
var transactionTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
}

type addressRequest struct {
	Address string `json:"address" validate:"required"`
}

type projectRequest struct {
	Name            string `json:"name"`
	Type            string `json:"type"`
	TransactionTime string `json:"transactionTime"`
	FounderInfo     string `json:"founderInfo"`
}

type divinationRequest struct {
	Address string         `json:"address" validate:"required"`
	Project projectRequest `json:"project"`
}

type feedbackRequest struct {
	Verdict string `json:"verdict" validate:"required|in:accurate,inaccurate"`
}

type donationRequest struct {
	Currency string `json:"currency" validate:"required"`
	Amount   string `json:"amount"`
}

type permissionRequest struct {
	Enabled bool `json:"enabled"`
}

// fortuneResponse is the body of GET /api/fortune/{address}
type fortuneResponse struct {
	Address   string             `json:"address"`
	Elements  types.FiveElements `json:"elements"`
	Counts    [5]int             `json:"counts"`
	CyberBazi string             `json:"cyberBazi"`
	WalletAge string             `json:"walletAge"`
}

// validateRequest runs the struct's validate tags and reports the first
// failure as an invalid parameter.
func validateRequest(req interface{}) error {
	v := validate.Struct(req)
	if v.Validate() {
		return nil
	}
	for field, messages := range v.Errors {
		return apperrors.NewInvalidParameterError(field, messages.One())
	}
	return apperrors.NewInvalidParameterError("body", v.Errors.One())
}

// toProject converts the form into a ProjectInfo. Only the time needs
// parsing here; every other rule is enforced by the divination service.
func (p projectRequest) toProject() (types.ProjectInfo, error) {
	project := types.ProjectInfo{
		Name:        p.Name,
		Type:        types.ProjectCategory(p.Type),
		FounderInfo: strings.TrimSpace(p.FounderInfo),
	}

	raw := strings.TrimSpace(p.TransactionTime)
	if raw == "" {
		return project, nil
	}
	for _, layout := range transactionTimeLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			project.TransactionTime = t.UTC()
			return project, nil
		}
	}
	return project, apperrors.NewInvalidProjectError("transactionTime", "unrecognised time format")
}
