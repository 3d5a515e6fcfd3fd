package usecase

// FlaggedCount reports how many ambiguous payments the sweeper remembers as alerted.
func FlaggedCount(s SweeperUseCase) int {
	uc := s.(*sweeperUC)
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return len(uc.flagged)
}
