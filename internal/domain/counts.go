package domain

// CountSnapshot maps every status to the number of a tenant's orders in it.
type CountSnapshot map[Status]int

func NewCountSnapshot() CountSnapshot {
	s := make(CountSnapshot, len(AllStatuses))
	for _, st := range AllStatuses {
		s[st] = 0
	}
	return s
}

// Active is the number of orders still moving through the kitchen.
func (s CountSnapshot) Active() int {
	return s[StatusPlaced] + s[StatusAccepted] + s[StatusReady]
}

func (s CountSnapshot) Total() int {
	n := 0
	for _, v := range s {
		n += v
	}
	return n
}

func (s CountSnapshot) Clone() CountSnapshot {
	c := NewCountSnapshot()
	for k, v := range s {
		c[k] = v
	}
	return c
}

func (s CountSnapshot) Equal(o CountSnapshot) bool {
	for _, st := range AllStatuses {
		if s[st] != o[st] {
			return false
		}
	}
	return true
}
