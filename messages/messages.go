package messages

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"time"
)

const (
	MsgWelcome = `🛡 <b>%s guard bot</b>

/contract — token contract
/links — official links
/team — core team
/presale — presale status
/link &lt;wallet&gt; — link your Solana wallet
/submit &lt;signature&gt; — verify a presale purchase
/xp, /tier — your quest progress
/invite — your referral link`

	MsgError = `❌ Something went wrong. Please try again later.`

	MsgNotConfigured = `ℹ️ This project is not configured yet.`

	MsgRateLimited = `⏳ Too many requests. Please wait a few seconds.`

	MsgLinkUsage = `Usage: /link &lt;your_solana_wallet&gt;`

	MsgSubmitUsage = `Usage: /submit &lt;transaction_signature&gt;`

	MsgSubmitNeedsWallet = `Link your wallet with /link before submitting a transaction.`

	MsgSubmitCooldown = `⏳ Please wait a minute before submitting another transaction.`

	MsgSpotCheck = `🛡 Selected for a spot check. Our team will double-check your transaction.`

	MsgXPNeedsWallet = `Link your wallet first with /link to start earning XP.`

	MsgWalletUnchanged = `Your wallet is already linked ✅`
	MsgWalletCreated   = `Wallet linked! You're now connected to the quest board.`
	MsgWalletUpdated   = `Wallet updated successfully.`

	MsgPresaleUnavailable = `ℹ️ Presale details are not available yet.`

	MsgInviteUnavailable = `ℹ️ Referral links are not available right now.`

	MsgAdminOnly = `⛔️ This command is for admins only.`

	MsgSetRuleUsage = `Usage: /setrule &lt;field&gt; &lt;value&gt;`

	MsgNoTeam = `ℹ️ Team details are not published yet.`

	MsgQuestClaimed   = `Quest received – awaiting review.`
	MsgQuestSucceeded = `🏅 Quest completed — XP awarded.`
	MsgQuestFailed    = `⚠️ Quest failed — try again.`

	MsgTierNeedsWallet = `Link your wallet with /link to unlock your tier.`

	MsgNoQuests = `No active quests yet. Check back soon!`

	MsgNoInviterActivity = `No referral activity recorded yet.`

	MsgExportUsage   = `Usage: /exportlogs [days]`
	MsgNoInfractions = `No infractions recorded for that period.`

	MsgSetContractUsage = `Usage: /setcontract &lt;address&gt;[, &lt;address&gt;...]`

	MsgSprintJoined = `👋 Welcome to the sprint! Let us know if you need help.`
	MsgSprintLeft   = `Goodbye! Come back anytime when you're ready to continue the sprint.`
)

// ReasonMessages: тексты для кодов отказа проверки транзакции
var ReasonMessages = map[string]string{
	"rpc_not_configured":   "Presale verification is not available right now. Please try later.",
	"wallet_not_linked":    "Link your wallet with /link before submitting a presale transaction.",
	"tx_not_found":         "We could not find that transaction on Solana. Double-check the signature.",
	"invalid_transaction":  "The transaction payload looks invalid.",
	"wallet_missing":       "Your wallet was not found in the transaction accounts.",
	"buyer_not_signer":     "You must sign the presale transaction with your linked wallet.",
	"no_smithii_program":   "This transaction does not interact with the presale program.",
	"vault_not_involved":   "The presale vault is not part of this transaction.",
	"tdl_not_minted":       "Presale tokens were not minted in this transaction.",
	"insufficient_sol":     "The SOL payment is below the required presale minimum.",
	"insufficient_usdc":    "The USDC payment is below the required presale minimum.",
	"insufficient_payment": "A qualifying SOL or USDC payment was not detected.",
	"rpc_error":            "The Solana RPC endpoint failed to verify your transaction. Please try again.",
	"already_submitted":    "This transaction was already submitted. Reach out to support if you need help.",
}

func FormatReason(reason string) string {
	if msg, ok := ReasonMessages[reason]; ok {
		return msg
	}
	return "Verification failed: " + reason
}

func FormatWelcome(project string) string {
	return fmt.Sprintf(MsgWelcome, html.EscapeString(project))
}

// ============================================
// Moderation
// ============================================

func FormatModerationNotice(reason string, strikes int) string {
	return fmt.Sprintf("⚠️ <b>Moderation notice</b>\n%s\nStrikes: <code>%d</code>",
		html.EscapeString(reason), strikes)
}

func FormatModerationLog(chatID, userID int64, username, action, reason string, strikes int) string {
	who := fmt.Sprint(userID)
	if username != "" {
		who = "@" + username
	}
	return fmt.Sprintf("🛡 <b>Moderation action</b>\nChat: <code>%d</code>\nUser: %s\nAction: %s\nReason: %s\nStrikes: <code>%d</code>",
		chatID, html.EscapeString(who), html.EscapeString(action), html.EscapeString(reason), strikes)
}

func FormatRuleUpdated(field, before, after string) string {
	return fmt.Sprintf("✅ <b>%s</b> updated\nBefore: <code>%s</code>\nAfter: <code>%s</code>",
		html.EscapeString(field), html.EscapeString(before), html.EscapeString(after))
}

func FormatRuleAudit(adminID int64, field, before, after string) string {
	return fmt.Sprintf("⚙️ <b>Rule change</b> by <code>%d</code>\nField: %s\nBefore: <code>%s</code>\nAfter: <code>%s</code>",
		adminID, html.EscapeString(field), html.EscapeString(before), html.EscapeString(after))
}

// ============================================
// Info
// ============================================

func FormatContract(ticker string, addresses []string, explorerURL string) string {
	var b strings.Builder
	b.WriteString("🛡 <b>Token Contract</b>\nChain: Solana\n")
	if ticker != "" {
		fmt.Fprintf(&b, "Ticker: <code>%s</code>\n", html.EscapeString(ticker))
	}
	for i, addr := range addresses {
		fmt.Fprintf(&b, "%d) <code>%s</code>\n", i+1, html.EscapeString(addr))
	}
	if explorerURL != "" {
		fmt.Fprintf(&b, "🔗 Explorer: <a href=\"%s\">Open</a>\n", html.EscapeString(explorerURL))
	}
	return strings.TrimRight(b.String(), "\n")
}

func FormatLinks(links map[string]string) string {
	names := make([]string, 0, len(links))
	for name, url := range links {
		if url != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("🛡 <b>Official Links</b>\n")
	for _, name := range names {
		friendly := strings.ReplaceAll(name, "_", " ")
		fmt.Fprintf(&b, "\n🔗 %s: <a href=\"%s\">Open</a>", html.EscapeString(friendly), html.EscapeString(links[name]))
	}
	return b.String()
}

type TeamEntry struct {
	Name    string
	Role    string
	Contact string
}

func FormatTeam(project string, team []TeamEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🛡 <b>%s Core Team</b>\n", html.EscapeString(project))
	for _, m := range team {
		fmt.Fprintf(&b, "\n👤 <b>%s</b>", html.EscapeString(m.Name))
		if m.Role != "" {
			fmt.Fprintf(&b, "\n   %s", html.EscapeString(m.Role))
		}
		if m.Contact != "" {
			fmt.Fprintf(&b, "\n   ✉️ %s", html.EscapeString(m.Contact))
		}
	}
	return b.String()
}

type PresaleView struct {
	Status   string
	Platform string
	Link     string
	Hardcap  string
	Softcap  string
	Raised   string
	Start    *time.Time
	End      *time.Time
}

func FormatPresale(p PresaleView) string {
	var b strings.Builder
	b.WriteString("🛡 <b>Presale</b>\n")
	fmt.Fprintf(&b, "Status: %s", html.EscapeString(capitalize(p.Status)))
	if p.Platform != "" {
		fmt.Fprintf(&b, "\nPlatform: %s", html.EscapeString(p.Platform))
	}
	if p.Hardcap != "" {
		fmt.Fprintf(&b, "\nHardcap: <code>%s</code>", html.EscapeString(p.Hardcap))
	}
	if p.Softcap != "" {
		fmt.Fprintf(&b, "\nSoftcap: <code>%s</code>", html.EscapeString(p.Softcap))
	}
	if p.Raised != "" {
		fmt.Fprintf(&b, "\nRaised: <code>%s</code>", html.EscapeString(p.Raised))
	}
	var dates []string
	if p.Start != nil {
		dates = append(dates, "Start: <code>"+p.Start.UTC().Format("2006-01-02 15:04 UTC")+"</code>")
	}
	if p.End != nil {
		dates = append(dates, "End: <code>"+p.End.UTC().Format("2006-01-02 15:04 UTC")+"</code>")
	}
	if len(dates) > 0 {
		b.WriteString("\n" + strings.Join(dates, " "))
	}
	if p.Link != "" {
		fmt.Fprintf(&b, "\n🔗 <a href=\"%s\">View Presale</a>", html.EscapeString(p.Link))
	}
	return b.String()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// ============================================
// Quests
// ============================================

type RewardLine struct {
	Quest  string
	XP     *int
	Status string
}

func FormatProgress(xp, level int, tierLabel, wallet string, rewards []RewardLine) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🏅 <b>Quest Progress</b>\nXP: <code>%d</code>\nLevel: <code>%d</code>\nTier: %s",
		xp, level, html.EscapeString(tierLabel))
	if wallet != "" {
		fmt.Fprintf(&b, "\nWallet: <code>%s</code>", html.EscapeString(wallet))
	}
	if len(rewards) > 0 {
		b.WriteString("\n\n<b>Recent Rewards</b>")
		for _, r := range rewards {
			xpText := "XP pending"
			if r.XP != nil && *r.XP > 0 {
				xpText = fmt.Sprintf("%d XP", *r.XP)
			}
			fmt.Fprintf(&b, "\n<code>%s</code> — %s (%s)", html.EscapeString(r.Quest), xpText, html.EscapeString(r.Status))
		}
	}
	return b.String()
}

func FormatTier(tierLabel string, privileges []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Current Tier</b>\n%s", html.EscapeString(tierLabel))
	if len(privileges) > 0 {
		b.WriteString("\n\n<b>Privileges</b>")
		for _, p := range privileges {
			fmt.Fprintf(&b, "\n• %s", html.EscapeString(p))
		}
	}
	return b.String()
}

func FormatVerified(signature string, amount *float64, currency string, xp int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Presale Verified ✅</b>\nTransaction: <code>%s</code>", html.EscapeString(signature))
	if amount != nil && currency != "" {
		if strings.EqualFold(currency, "SOL") {
			fmt.Fprintf(&b, "\nPayment: <code>%.6f SOL</code>", *amount)
		} else {
			fmt.Fprintf(&b, "\nPayment: <code>%.2f %s</code>", *amount, html.EscapeString(currency))
		}
	}
	if xp > 0 {
		fmt.Fprintf(&b, "\nReward: <code>+%d XP</code>", xp)
	}
	b.WriteString("\nQuest recorded. Check /xp for your rewards!")
	return b.String()
}

func FormatTierUpgrade(tierLabel string) string {
	return fmt.Sprintf("🎉 <b>Tier upgraded to %s!</b>\nEnjoy the new perks.", html.EscapeString(tierLabel))
}

func FormatSprint(started bool, name string, leaderboard []string) string {
	var b strings.Builder
	if started {
		fmt.Fprintf(&b, "🚀 Sprint <b>%s</b> has started!", html.EscapeString(name))
	} else {
		fmt.Fprintf(&b, "✅ Sprint <b>%s</b> has ended!", html.EscapeString(name))
	}
	if len(leaderboard) > 0 {
		b.WriteString("\n\n🏆 <b>Leaderboard</b>")
		for i, line := range leaderboard {
			fmt.Fprintf(&b, "\n%d. %s", i+1, html.EscapeString(line))
		}
	}
	return b.String()
}

// ============================================
// Affiliates
// ============================================

func FormatInvite(link string, joins int) string {
	return fmt.Sprintf("🤝 <b>Your referral link</b>\n%s\n\nJoined through your link: <code>%d</code>",
		html.EscapeString(link), joins)
}

func FormatTopInviters(days int, rows [][2]int64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Top Inviters (%dd)</b>", days)
	for i, row := range rows {
		fmt.Fprintf(&b, "\n%d. <a href=\"tg://user?id=%d\">%d</a> · <b>%d</b> joins", i+1, row[0], row[0], row[1])
	}
	return b.String()
}

func FormatNewReferral(name string) string {
	return fmt.Sprintf("🎉 New member joined via your link: <b>%s</b>", html.EscapeString(name))
}

// ============================================
// Quest board
// ============================================

type QuestLine struct {
	Slug string
	XP   int
}

func FormatQuests(quests []QuestLine) string {
	var b strings.Builder
	b.WriteString("<b>Active Quests</b>\n")
	for _, q := range quests {
		fmt.Fprintf(&b, "\n<code>%s</code> — %d XP", html.EscapeString(q.Slug), q.XP)
	}
	return b.String()
}

func FormatWalletStatus(base, tierLabel string) string {
	if tierLabel == "" {
		return base
	}
	return base + "\nCurrent tier: " + html.EscapeString(tierLabel)
}

func FormatDLQ(size int64, lines []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Spot-check queue</b>: <code>%d</code>", size)
	for _, l := range lines {
		b.WriteString("\n• " + html.EscapeString(l))
	}
	return b.String()
}

func FormatUnknownField(fields []string) string {
	return "Unknown field. Available: " + html.EscapeString(strings.Join(fields, ", "))
}
