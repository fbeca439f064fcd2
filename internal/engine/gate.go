package engine

// checkAbort decides whether the request may proceed to execution. A clean
// snapshot always proceeds. Unresolved references or ignored entities need
// confirm_write, and a confirmed write additionally requires that any prior
// maps the caller reviewed still match the fresh ones. The ignored-map
// branch is checked last so its verdict wins when both apply.
//
// Returns nil to proceed, otherwise the abort Result carrying the fresh
// snapshot for the caller to review and resubmit.
func (c *Copier) checkAbort() *Result {
	var reason AbortReason

	if c.refMap.HasUnresolved() {
		if !c.req.ConfirmWrite {
			reason = AbortNotMatched
		} else if c.req.PriorRefMap != nil && !c.req.PriorRefMap.Equal(c.refMap) {
			reason = AbortDataChangedRefMap
		}
	}
	if len(c.ignored) > 0 {
		if !c.req.ConfirmWrite {
			reason = AbortIgnored
		} else if c.req.PriorIgnored != nil && !c.req.PriorIgnored.Equal(c.ignored) {
			reason = AbortDataChangedIgnored
		}
	}

	if reason == "" {
		return nil
	}
	return &Result{
		Success: false,
		Reason:  reason,
		RefMap:  c.refMap,
		Ignored: c.ignored,
	}
}
