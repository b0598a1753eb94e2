package token

// Policy composes primitive tracker calls for a common node shape. A node
// calls Read for every consumed token, Write for every produced token, Done
// once the current input is fully processed and Close at end of stream.
type Policy interface {
	Read(port int, t *Token) error
	Write(port int, t *Token) error
	Done() error
	Close() error
}

// OneToOne frees every input as soon as it is read and initializes every
// output as a new token. Readers and writers use it.
type OneToOne struct {
	tr Tracker
}

func NewOneToOne(tr Tracker) *OneToOne { return &OneToOne{tr: tr} }

func (p *OneToOne) Read(port int, t *Token) error {
	if err := p.tr.ReadToken(port, t); err != nil {
		return err
	}
	return p.tr.FreeToken(t)
}

func (p *OneToOne) Write(port int, t *Token) error {
	if err := p.tr.InitToken(t); err != nil {
		return err
	}
	return p.tr.WriteToken(port, t)
}

func (p *OneToOne) Done() error  { return nil }
func (p *OneToOne) Close() error { return nil }

// OneToMany links every output to the current input. The input is freed by
// Done.
type OneToMany struct {
	tr      Tracker
	current *Token
}

func NewOneToMany(tr Tracker) *OneToMany { return &OneToMany{tr: tr} }

func (p *OneToMany) Read(port int, t *Token) error {
	if err := p.release(); err != nil {
		return err
	}
	if err := p.tr.ReadToken(port, t); err != nil {
		return err
	}
	p.current = t
	return nil
}

func (p *OneToMany) Write(port int, t *Token) error {
	if err := p.tr.InitToken(t); err != nil {
		return err
	}
	if p.current != nil {
		if err := p.tr.LinkTokens(p.current, t); err != nil {
			return err
		}
	}
	return p.tr.WriteToken(port, t)
}

func (p *OneToMany) release() error {
	if p.current == nil {
		return nil
	}
	t := p.current
	p.current = nil
	return p.tr.FreeToken(t)
}

func (p *OneToMany) Done() error  { return p.release() }
func (p *OneToMany) Close() error { return p.release() }

type cached struct {
	t      *Token
	linked bool
}

// ManyToOne caches up to k inputs. Every output is linked to the cached
// inputs it was not yet linked to. When the cache is full the oldest input
// is freed.
type ManyToOne struct {
	tr    Tracker
	k     int
	cache []cached
}

// NewManyToOne creates the policy. k < 1 is treated as 1.
func NewManyToOne(tr Tracker, k int) *ManyToOne {
	if k < 1 {
		k = 1
	}
	return &ManyToOne{tr: tr, k: k}
}

func (p *ManyToOne) Read(port int, t *Token) error {
	if err := p.tr.ReadToken(port, t); err != nil {
		return err
	}
	if len(p.cache) == p.k {
		oldest := p.cache[0]
		p.cache = p.cache[1:]
		if err := p.tr.FreeToken(oldest.t); err != nil {
			return err
		}
	}
	p.cache = append(p.cache, cached{t: t})
	return nil
}

func (p *ManyToOne) Write(port int, t *Token) error {
	if err := p.tr.InitToken(t); err != nil {
		return err
	}
	for i := range p.cache {
		if p.cache[i].linked {
			continue
		}
		if err := p.tr.LinkTokens(p.cache[i].t, t); err != nil {
			return err
		}
		p.cache[i].linked = true
	}
	return p.tr.WriteToken(port, t)
}

// Done frees the inputs that already contributed to an output
func (p *ManyToOne) Done() error {
	kept := p.cache[:0]
	for _, c := range p.cache {
		if !c.linked {
			kept = append(kept, c)
			continue
		}
		if err := p.tr.FreeToken(c.t); err != nil {
			return err
		}
	}
	p.cache = kept
	return nil
}

// Close frees every cached input
func (p *ManyToOne) Close() error {
	var first error
	for _, c := range p.cache {
		if err := p.tr.FreeToken(c.t); err != nil && first == nil {
			first = err
		}
	}
	p.cache = nil
	return first
}

// Reformat lets the first output of every input continue the input's
// identity. Further outputs of the same input are new tokens linked to it.
// An input that produced no output is freed by Done.
type Reformat struct {
	tr      Tracker
	current *Token
	unified bool
}

func NewReformat(tr Tracker) *Reformat { return &Reformat{tr: tr} }

func (p *Reformat) Read(port int, t *Token) error {
	if err := p.Done(); err != nil {
		return err
	}
	if err := p.tr.ReadToken(port, t); err != nil {
		return err
	}
	p.current = t
	p.unified = false
	return nil
}

func (p *Reformat) Write(port int, t *Token) error {
	switch {
	case p.current == nil:
		if err := p.tr.InitToken(t); err != nil {
			return err
		}
	case !p.unified:
		if err := p.tr.UnifyTokens(p.current, t); err != nil {
			return err
		}
		p.unified = true
	default:
		if err := p.tr.InitToken(t); err != nil {
			return err
		}
		if err := p.tr.LinkTokens(p.current, t); err != nil {
			return err
		}
	}
	return p.tr.WriteToken(port, t)
}

func (p *Reformat) Done() error {
	if p.current == nil {
		return nil
	}
	t := p.current
	p.current = nil
	if p.unified {
		return nil
	}
	return p.tr.FreeToken(t)
}

func (p *Reformat) Close() error { return p.Done() }
