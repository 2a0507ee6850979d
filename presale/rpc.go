package presale

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ============================================
// getTransaction
// ============================================

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result *Transaction `json:"result"`
	Error  *rpcError    `json:"error"`
}

type Transaction struct {
	Transaction struct {
		Message TxMessage `json:"message"`
	} `json:"transaction"`
	Meta *TxMeta `json:"meta"`
}

type TxMessage struct {
	AccountKeys  []AccountKey  `json:"accountKeys"`
	Instructions []Instruction `json:"instructions"`
	Header       *struct {
		NumRequiredSignatures int `json:"numRequiredSignatures"`
	} `json:"header"`
}

// AccountKey принимает обе формы: "addr" и {"pubkey": "addr", "signer": true}
type AccountKey struct {
	Pubkey string
	Signer bool
	// false для строковой формы: признак подписи берётся из header
	HasSignerFlag bool
}

func (k *AccountKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*k = AccountKey{Pubkey: s}
		return nil
	}
	var obj struct {
		Pubkey string `json:"pubkey"`
		Signer bool   `json:"signer"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("account key: %w", err)
	}
	*k = AccountKey{Pubkey: obj.Pubkey, Signer: obj.Signer, HasSignerFlag: true}
	return nil
}

// Instruction: programId в jsonParsed, programIdIndex в json
type Instruction struct {
	ProgramID      string `json:"programId"`
	ProgramIDIndex *int   `json:"programIdIndex"`
}

type InnerInstructions struct {
	Index        int           `json:"index"`
	Instructions []Instruction `json:"instructions"`
}

type TokenBalance struct {
	AccountIndex  int    `json:"accountIndex"`
	Mint          string `json:"mint"`
	Owner         string `json:"owner"`
	UITokenAmount struct {
		Amount   string `json:"amount"`
		Decimals int    `json:"decimals"`
	} `json:"uiTokenAmount"`
}

type TxMeta struct {
	PreBalances       []int64             `json:"preBalances"`
	PostBalances      []int64             `json:"postBalances"`
	PreTokenBalances  []TokenBalance      `json:"preTokenBalances"`
	PostTokenBalances []TokenBalance      `json:"postTokenBalances"`
	InnerInstructions []InnerInstructions `json:"innerInstructions"`
}

// fetchTransaction возвращает nil без ошибки, если транзакция не найдена
func (v *Verifier) fetchTransaction(ctx context.Context, signature string) (*Transaction, error) {
	payload := rpcRequest{
		JSONRPC: "2.0",
		ID:      "splguard",
		Method:  "getTransaction",
		Params: []any{
			signature,
			map[string]any{
				"encoding":                       "jsonParsed",
				"commitment":                     "confirmed",
				"maxSupportedTransactionVersion": 0,
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.RPCURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("rpc status %d", resp.StatusCode)
	}

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode rpc response: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", out.Error.Code, out.Error.Message)
	}
	return out.Result, nil
}
