package resources

// Ordering is the outcome of comparing two resource holders.
type Ordering int

const (
	Incomparable Ordering = iota
	Less
	Equal
	Greater
)

func (o Ordering) String() string {
	switch o {
	case Less:
		return "less"
	case Equal:
		return "equal"
	case Greater:
		return "greater"
	}
	return "incomparable"
}

// Ge reports whether a covers b: for every kind b carries, a's amount is at
// least b's. This is the feasibility test "offer >= task". A NaN amount on
// either side is never covered.
func Ge(a, b Holder) bool {
	ar, br := a.Resources(), b.Resources()
	for _, k := range br.Kinds() {
		if !(ar.AmountOf(k) >= br.AmountOf(k)) {
			return false
		}
	}
	return true
}

// Le reports whether b covers a.
func Le(a, b Holder) bool {
	return Ge(b, a)
}

// Eq reports whether a and b carry the same amount of every kind either of
// them has.
func Eq(a, b Holder) bool {
	ar, br := a.Resources(), b.Resources()
	for _, k := range union(ar, br) {
		if ar.AmountOf(k) != br.AmountOf(k) {
			return false
		}
	}
	return true
}

// Lt reports whether a is strictly dominated by b on every kind both carry.
// Holders sharing no kind are never Lt.
func Lt(a, b Holder) bool {
	ar, br := a.Resources(), b.Resources()
	shared := intersect(ar, br)
	if len(shared) == 0 {
		return false
	}
	for _, k := range shared {
		if ar.AmountOf(k) >= br.AmountOf(k) {
			return false
		}
	}
	return true
}

// Gt reports whether a strictly dominates b on every kind both carry.
func Gt(a, b Holder) bool {
	return Lt(b, a)
}

// Compare classifies a against b. Equal takes precedence, then the strict
// orders, then the covering orders.
func Compare(a, b Holder) Ordering {
	switch {
	case Eq(a, b):
		return Equal
	case Lt(a, b), Le(a, b) && !Ge(a, b):
		return Less
	case Gt(a, b), Ge(a, b) && !Le(a, b):
		return Greater
	}
	return Incomparable
}

func union(a, b List) []Kind {
	all := make(List, 0, len(a)+len(b))
	all = append(all, a...)
	return append(all, b...).Kinds()
}

func intersect(a, b List) []Kind {
	inB := make(map[Kind]bool)
	for _, k := range b.Kinds() {
		inB[k] = true
	}
	var out []Kind
	for _, k := range a.Kinds() {
		if inB[k] {
			out = append(out, k)
		}
	}
	return out
}
