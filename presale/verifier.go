package presale

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"splguard/httpclient"
	"splguard/metrics"
)

const lamportsPerSOL = 1_000_000_000

type VerifierConfig struct {
	RPCURL  string
	Timeout time.Duration

	// пустые списки отключают соответствующую проверку
	ProgramIDs []string
	Vaults     []string
	TokenMints []string
	// минт токена пресейла; баланс покупателя должен вырасти
	PresaleMint string

	MinSOLLamports int64
	// в минимальных единицах токена
	MinTokenAmount int64

	XPReward int
}

type Verifier struct {
	cfg         VerifierConfig
	programs    map[string]struct{}
	vaults      map[string]struct{}
	mints       map[string]struct{}
	presaleMint string
	client      *http.Client
}

// NewVerifier: при client == nil используется retryablehttp с таймаутом cfg.Timeout
func NewVerifier(cfg VerifierConfig, client *http.Client) *Verifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	cfg.MinSOLLamports = max(0, cfg.MinSOLLamports)
	cfg.MinTokenAmount = max(0, cfg.MinTokenAmount)
	if client == nil {
		client = httpclient.New(cfg.Timeout)
	}
	return &Verifier{
		cfg:         cfg,
		programs:    lowerSet(cfg.ProgramIDs),
		vaults:      lowerSet(cfg.Vaults),
		mints:       lowerSet(cfg.TokenMints),
		presaleMint: strings.ToLower(cfg.PresaleMint),
		client:      client,
	}
}

func lowerSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, it := range items {
		if it = strings.ToLower(strings.TrimSpace(it)); it != "" {
			out[it] = struct{}{}
		}
	}
	return out
}

// Verify проверяет покупку на пресейле. Ошибок не возвращает: любые сбои
// превращаются в Outcome с кодом причины.
func (v *Verifier) Verify(ctx context.Context, signature, wallet string) Outcome {
	out := v.verify(ctx, signature, wallet)
	label := string(out.Reason)
	if out.OK {
		label = "ok"
	}
	metrics.Verifications.WithLabelValues(label).Inc()
	return out
}

func (v *Verifier) verify(ctx context.Context, signature, wallet string) Outcome {
	// 1-2. Конфигурация
	if v.cfg.RPCURL == "" {
		return fail(ReasonRPCNotConfigured)
	}
	if wallet == "" {
		return fail(ReasonWalletNotLinked)
	}
	buyer := strings.ToLower(wallet)

	// 3. Загрузка
	tx, err := v.fetchTransaction(ctx, signature)
	if err != nil {
		slog.Warn("failed to fetch transaction", "signature", signature, "err", err)
		return fail(ReasonRPCError)
	}
	if tx == nil {
		return fail(ReasonTxNotFound)
	}

	// 4-5. Аккаунты и подписанты
	msg := tx.Transaction.Message
	if len(msg.AccountKeys) == 0 {
		return fail(ReasonInvalidTransaction)
	}
	accounts, signers := accountSets(msg)
	if _, ok := signers[buyer]; !ok {
		return fail(ReasonBuyerNotSigner)
	}

	meta := tx.Meta
	if meta == nil {
		meta = &TxMeta{}
	}

	// 6. Программа пресейла
	if len(v.programs) > 0 && !v.hasProgram(msg, meta, accounts) {
		return fail(ReasonNoProgram)
	}

	// 7. Хранилище (vault)
	if len(v.vaults) > 0 {
		found := false
		for _, acc := range accounts {
			if _, ok := v.vaults[acc]; ok {
				found = true
				break
			}
		}
		if !found {
			return fail(ReasonVaultNotInvolved)
		}
	}

	// 8. Индекс покупателя
	buyerIndex := -1
	for i, acc := range accounts {
		if acc == buyer {
			buyerIndex = i
			break
		}
	}
	if buyerIndex < 0 {
		return fail(ReasonWalletMissing)
	}

	// 9. SOL
	var solPaid int64
	if v.cfg.MinSOLLamports > 0 && buyerIndex < len(meta.PreBalances) && buyerIndex < len(meta.PostBalances) {
		solPaid = meta.PreBalances[buyerIndex] - meta.PostBalances[buyerIndex]
	}

	// 10. Токены: минт из разрешённых с наибольшей тратой
	spentRaw := new(big.Int)
	var spentDecimals int
	var mintUsed string
	if len(v.mints) > 0 {
		for mint, diff := range tokenDifferences(meta, buyer) {
			if _, ok := v.mints[mint]; !ok {
				continue
			}
			if diff.spent.Cmp(spentRaw) > 0 {
				spentRaw = diff.spent
				spentDecimals = diff.decimals
				mintUsed = diff.mint
			}
		}
	}

	// 11. Достаточность оплаты
	solThreshold, tokenThreshold := v.cfg.MinSOLLamports, v.cfg.MinTokenAmount
	solOK := solThreshold == 0 || solPaid >= solThreshold
	tokenOK := tokenThreshold == 0
	if len(v.mints) > 0 && !tokenOK {
		tokenOK = spentRaw.Cmp(big.NewInt(tokenThreshold)) >= 0
	}
	switch {
	case solThreshold > 0 && tokenThreshold > 0:
		if !solOK && !tokenOK {
			return fail(ReasonInsufficientPayment)
		}
	case solThreshold > 0:
		if !solOK {
			return fail(ReasonInsufficientSOL)
		}
	case tokenThreshold > 0:
		if !tokenOK {
			return fail(ReasonInsufficientToken)
		}
	}

	// 12. Минт токена пресейла
	if v.presaleMint != "" && !tokenMinted(meta, buyer, v.presaleMint) {
		return fail(ReasonTokenNotMinted)
	}

	// 13. Успех: потраченный токен, иначе SOL
	out := Outcome{OK: true, XPAwarded: v.cfg.XPReward}
	if mintUsed != "" {
		amount := toDisplay(spentRaw, spentDecimals)
		out.Amount = &amount
		out.Currency = &mintUsed
		return out
	}
	if solPaid != 0 {
		amount := float64(solPaid) / lamportsPerSOL
		currency := "SOL"
		out.Amount = &amount
		out.Currency = &currency
	}
	return out
}

// accountSets: адреса в нижнем регистре по порядку и множество подписантов
func accountSets(msg TxMessage) ([]string, map[string]struct{}) {
	required := 0
	if msg.Header != nil {
		required = msg.Header.NumRequiredSignatures
	}
	accounts := make([]string, len(msg.AccountKeys))
	signers := make(map[string]struct{})
	for i, key := range msg.AccountKeys {
		addr := strings.ToLower(key.Pubkey)
		accounts[i] = addr
		signer := key.Signer
		if !key.HasSignerFlag {
			// в json-кодировке подписанты идут первыми numRequiredSignatures ключами
			signer = i < required
		}
		if signer && addr != "" {
			signers[addr] = struct{}{}
		}
	}
	return accounts, signers
}

func (v *Verifier) hasProgram(msg TxMessage, meta *TxMeta, accounts []string) bool {
	match := func(ins Instruction) bool {
		id := ins.ProgramID
		if id == "" && ins.ProgramIDIndex != nil && *ins.ProgramIDIndex >= 0 && *ins.ProgramIDIndex < len(accounts) {
			id = accounts[*ins.ProgramIDIndex]
		}
		_, ok := v.programs[strings.ToLower(id)]
		return ok
	}
	for _, ins := range msg.Instructions {
		if match(ins) {
			return true
		}
	}
	for _, inner := range meta.InnerInstructions {
		for _, ins := range inner.Instructions {
			if match(ins) {
				return true
			}
		}
	}
	return false
}

type tokenBalance struct {
	mint     string
	raw      *big.Int
	decimals int
}

type tokenKey struct {
	mint  string
	owner string
}

func balanceMap(entries []TokenBalance) map[tokenKey]tokenBalance {
	out := make(map[tokenKey]tokenBalance, len(entries))
	for _, e := range entries {
		if e.Mint == "" || e.Owner == "" {
			continue
		}
		raw, ok := new(big.Int).SetString(e.UITokenAmount.Amount, 10)
		if !ok {
			raw = new(big.Int)
		}
		out[tokenKey{strings.ToLower(e.Mint), strings.ToLower(e.Owner)}] = tokenBalance{mint: e.Mint, raw: raw, decimals: e.UITokenAmount.Decimals}
	}
	return out
}

type tokenDiff struct {
	mint     string
	spent    *big.Int
	decimals int
}

// tokenDifferences: сколько каждого минта потратил owner (не меньше нуля)
func tokenDifferences(meta *TxMeta, owner string) map[string]tokenDiff {
	pre := balanceMap(meta.PreTokenBalances)
	post := balanceMap(meta.PostTokenBalances)

	keys := make(map[tokenKey]struct{})
	for k := range pre {
		keys[k] = struct{}{}
	}
	for k := range post {
		keys[k] = struct{}{}
	}

	out := make(map[string]tokenDiff)
	for k := range keys {
		if k.owner != owner {
			continue
		}
		before, ok := pre[k]
		if !ok {
			before = tokenBalance{mint: post[k].mint, raw: new(big.Int)}
		}
		after, ok := post[k]
		if !ok {
			after = tokenBalance{mint: before.mint, raw: new(big.Int), decimals: before.decimals}
		}
		spent := new(big.Int).Sub(before.raw, after.raw)
		if spent.Sign() < 0 {
			spent.SetInt64(0)
		}
		out[k.mint] = tokenDiff{mint: after.mint, spent: spent, decimals: after.decimals}
	}
	return out
}

func tokenMinted(meta *TxMeta, owner, mint string) bool {
	key := tokenKey{mint, owner}
	after, ok := balanceMap(meta.PostTokenBalances)[key]
	if !ok {
		return false
	}
	before, ok := balanceMap(meta.PreTokenBalances)[key]
	if !ok {
		return after.raw.Sign() > 0
	}
	return after.raw.Cmp(before.raw) > 0
}

// toDisplay делит целое количество на 10^decimals только для показа
func toDisplay(raw *big.Int, decimals int) float64 {
	if decimals <= 0 {
		f, _ := new(big.Float).SetInt(raw).Float64()
		return f
	}
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	f, _ := new(big.Rat).SetFrac(raw, denom).Float64()
	return f
}
