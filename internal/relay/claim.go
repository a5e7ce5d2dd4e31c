package relay

import "github.com/ircrelay/relayd/internal/entity"

// claimAllows implements the CLAIM accept rule: a foreign-network
// kick/mode/topic change against a linked channel is accepted iff any of
// six conditions hold. entry may be nil (no link entry at all, condition
// one).
func claimAllows(entry *LinkEntry, originNet string, ch *entity.Channel, senderUID string, isOurClientOrServer bool) bool {
	if entry == nil {
		return true
	}
	if originNet == entry.HomeNetwork {
		return true
	}
	if len(entry.Claim) == 0 {
		return true
	}
	if entry.ClaimedBy(originNet) {
		return true
	}
	if ch != nil && senderUID != "" && ch.AtLeast(senderUID, entity.PrefixHalfop) {
		return true
	}
	if isOurClientOrServer {
		return true
	}
	return false
}
