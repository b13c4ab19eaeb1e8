package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound возвращается хранилищем, если запись отсутствует.
var ErrNotFound = errors.New("запись не найдена")

// GatewayReason классифицирует отказ сервиса суммаризации.
type GatewayReason string

const (
	GatewayTimeout   GatewayReason = "timeout"
	GatewayQuota     GatewayReason = "quota"
	GatewayMalformed GatewayReason = "malformed"
	GatewayUpstream  GatewayReason = "upstream"
	GatewayDisabled  GatewayReason = "disabled"
)

// GatewayError описывает восстановимую ошибку суммаризации.
type GatewayError struct {
	Provider string
	Reason   GatewayReason
	Err      error
}

func (e *GatewayError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("summarizer %s: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("summarizer %s: %s: %v", e.Provider, e.Reason, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// IsGatewayError проверяет, что ошибка пришла от сервиса суммаризации.
func IsGatewayError(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr)
}
