package presale

// Reason: код отказа проверки транзакции
type Reason string

const (
	ReasonRPCNotConfigured    Reason = "rpc_not_configured"
	ReasonWalletNotLinked     Reason = "wallet_not_linked"
	ReasonTxNotFound          Reason = "tx_not_found"
	ReasonInvalidTransaction  Reason = "invalid_transaction"
	ReasonWalletMissing       Reason = "wallet_missing"
	ReasonBuyerNotSigner      Reason = "buyer_not_signer"
	ReasonNoProgram           Reason = "no_smithii_program"
	ReasonVaultNotInvolved    Reason = "vault_not_involved"
	ReasonTokenNotMinted      Reason = "tdl_not_minted"
	ReasonInsufficientSOL     Reason = "insufficient_sol"
	ReasonInsufficientToken   Reason = "insufficient_usdc"
	ReasonInsufficientPayment Reason = "insufficient_payment"
	ReasonRPCError            Reason = "rpc_error"
	ReasonAlreadySubmitted    Reason = "already_submitted"
)

// Outcome: результат проверки. Amount и Currency отсутствуют, если сумму
// определить не удалось; при сериализации они опускаются.
type Outcome struct {
	OK        bool     `json:"ok"`
	Reason    Reason   `json:"reason,omitempty"`
	Amount    *float64 `json:"amount,omitempty"`
	Currency  *string  `json:"currency,omitempty"`
	XPAwarded int      `json:"xp_awarded"`
}

func fail(reason Reason) Outcome {
	return Outcome{OK: false, Reason: reason}
}
