package agc

// Update is one logical channel write. Masked is false for a lone data
// frame (downlink notifications never carry a mask).
type Update struct {
	Channel uint8
	Value   uint16
	Mask    uint16
	Masked  bool
}

// Bytes returns the wire form of u: a mask+data pair when masked, otherwise
// a single data frame.
func (u Update) Bytes() []byte {
	if u.Masked {
		p := Pack(u.Channel, u.Value, u.Mask)
		return p[:]
	}
	f := EncodeFrame(Frame{Kind: KindData, Channel: u.Channel, Payload: u.Value})
	return f[:]
}

// Pairer folds a mask frame into the data frame that follows it. A mask
// frame for a different channel, or a second mask frame, replaces the
// pending one.
type Pairer struct {
	pending *Frame
}

// Push feeds one frame and reports a completed Update when f is a data frame.
func (p *Pairer) Push(f Frame) (Update, bool) {
	if f.Kind == KindMask {
		m := f
		p.pending = &m
		return Update{}, false
	}
	u := Update{Channel: f.Channel, Value: f.Payload}
	if p.pending != nil && p.pending.Channel == f.Channel {
		u.Mask = p.pending.Payload
		u.Masked = true
	}
	p.pending = nil
	return u, true
}

// Reset drops any pending mask.
func (p *Pairer) Reset() { p.pending = nil }
