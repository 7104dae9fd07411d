package gs

import (
	"errors"
	"sort"

	"github.com/wasmstate/engine/bytesrepr"
)

var (
	// ErrNoAssociatedKeys is returned when an operation would leave an
	// account with zero associated keys.
	ErrNoAssociatedKeys = errors.New("gs: account must retain at least one associated key")

	// ErrThresholdInversion is returned when setting thresholds would leave
	// key_management below deployment.
	ErrThresholdInversion = errors.New("gs: key_management threshold must be >= deployment threshold")

	// ErrThresholdUnmeetable is returned when removing or downgrading a key
	// would make an action threshold permanently unreachable given the
	// remaining associated keys' weights.
	ErrThresholdUnmeetable = errors.New("gs: action threshold not satisfiable by remaining associated keys")

	// ErrInsufficientWeight is returned when the authorizing keys supplied
	// for an action do not sum to its threshold.
	ErrInsufficientWeight = errors.New("gs: authorizing weight below action threshold")

	// ErrAssociatedKeyNotFound is returned when removing/updating a key
	// that is not currently associated with the account.
	ErrAssociatedKeyNotFound = errors.New("gs: associated key not found")
)

// Weight is an associated key's authorization weight, 0-255.
type Weight uint8

// ActionThresholds are the minimum summed weights required to authorize
// each class of action against the account.
type ActionThresholds struct {
	Deployment     Weight
	KeyManagement  Weight
}

// Account is the per-user or per-system record addressed by a Key of Tag
// KeyTagAccount.
type Account struct {
	Addr            Addr32
	NamedKeys       map[string]Key
	MainPurse       URef
	AssociatedKeys  map[Addr32]Weight
	ActionThresholds ActionThresholds
}

// NewAccount builds an Account with a single associated key at full weight
// and default (1,1) thresholds.
func NewAccount(addr Addr32, mainPurse URef) *Account {
	return &Account{
		Addr:      addr,
		NamedKeys: make(map[string]Key),
		MainPurse: mainPurse,
		AssociatedKeys: map[Addr32]Weight{
			addr: 255,
		},
		ActionThresholds: ActionThresholds{Deployment: 1, KeyManagement: 1},
	}
}

// totalWeightExcluding sums the weights of every associated key, counting
// `replacement` in place of the excluded key's own weight (used to check
// whether removing/downgrading `excluded` would still satisfy every
// threshold).
func (a *Account) totalWeightExcluding(excluded Addr32, replacement Weight) int {
	sum := 0
	for addr, w := range a.AssociatedKeys {
		if addr == excluded {
			sum += int(replacement)
			continue
		}
		sum += int(w)
	}
	return sum
}

// AddAssociatedKey adds or overwrites an associated key's weight.
func (a *Account) AddAssociatedKey(addr Addr32, weight Weight) {
	a.AssociatedKeys[addr] = weight
}

// RemoveAssociatedKey removes addr from the associated-key set, enforcing
// that at least one key remains and that every action threshold stays
// satisfiable by the remaining keys' total weight.
func (a *Account) RemoveAssociatedKey(addr Addr32) error {
	if _, ok := a.AssociatedKeys[addr]; !ok {
		return ErrAssociatedKeyNotFound
	}
	if len(a.AssociatedKeys) == 1 {
		return ErrNoAssociatedKeys
	}
	remaining := 0
	for k, w := range a.AssociatedKeys {
		if k == addr {
			continue
		}
		remaining += int(w)
	}
	if remaining < int(a.ActionThresholds.Deployment) || remaining < int(a.ActionThresholds.KeyManagement) {
		return ErrThresholdUnmeetable
	}
	delete(a.AssociatedKeys, addr)
	return nil
}

// UpdateAssociatedKey changes an existing associated key's weight,
// enforcing the same threshold-satisfiability invariant as removal.
func (a *Account) UpdateAssociatedKey(addr Addr32, weight Weight) error {
	if _, ok := a.AssociatedKeys[addr]; !ok {
		return ErrAssociatedKeyNotFound
	}
	total := a.totalWeightExcluding(addr, weight)
	if total < int(a.ActionThresholds.Deployment) || total < int(a.ActionThresholds.KeyManagement) {
		return ErrThresholdUnmeetable
	}
	a.AssociatedKeys[addr] = weight
	return nil
}

// SetActionThreshold validates and applies a new threshold pair. The
// key_management threshold must never fall below deployment, and neither
// threshold may exceed the total weight the account can currently muster.
func (a *Account) SetActionThreshold(deployment, keyManagement Weight) error {
	if keyManagement < deployment {
		return ErrThresholdInversion
	}
	total := 0
	for _, w := range a.AssociatedKeys {
		total += int(w)
	}
	if int(deployment) > total || int(keyManagement) > total {
		return ErrThresholdUnmeetable
	}
	a.ActionThresholds = ActionThresholds{Deployment: deployment, KeyManagement: keyManagement}
	return nil
}

// AuthorizeAction checks that the summed weight of authorizingKeys meets
// threshold, counting only keys present in AssociatedKeys (unknown keys
// contribute zero weight).
func (a *Account) AuthorizeAction(authorizingKeys []Addr32, threshold Weight) error {
	sum := 0
	seen := make(map[Addr32]bool, len(authorizingKeys))
	for _, k := range authorizingKeys {
		if seen[k] {
			continue
		}
		seen[k] = true
		if w, ok := a.AssociatedKeys[k]; ok {
			sum += int(w)
		}
	}
	if sum < int(threshold) {
		return ErrInsufficientWeight
	}
	return nil
}

// WriteAccount appends the canonical encoding of an Account.
func WriteAccount(w *bytesrepr.Writer, a Account) {
	w.WriteFixedBytes(a.Addr[:])

	names := make([]string, 0, len(a.NamedKeys))
	for n := range a.NamedKeys {
		names = append(names, n)
	}
	sort.Strings(names)
	entries := make([]bytesrepr.MapEntry[string, Key], 0, len(names))
	for _, n := range names {
		entries = append(entries, bytesrepr.MapEntry[string, Key]{Key: n, Value: a.NamedKeys[n]})
	}
	bytesrepr.WriteMap(w, entries,
		func(w *bytesrepr.Writer, k string) { w.WriteString(k) },
		func(w *bytesrepr.Writer, v Key) { WriteKey(w, v) },
	)

	w.WriteFixedBytes(a.MainPurse.Addr[:])
	w.WriteU8(uint8(a.MainPurse.Rights))

	addrs := make([]Addr32, 0, len(a.AssociatedKeys))
	for k := range a.AssociatedKeys {
		addrs = append(addrs, k)
	}
	sort.Slice(addrs, func(i, j int) bool {
		for b := 0; b < 32; b++ {
			if addrs[i][b] != addrs[j][b] {
				return addrs[i][b] < addrs[j][b]
			}
		}
		return false
	})
	akEntries := make([]bytesrepr.MapEntry[Addr32, Weight], 0, len(addrs))
	for _, addr := range addrs {
		akEntries = append(akEntries, bytesrepr.MapEntry[Addr32, Weight]{Key: addr, Value: a.AssociatedKeys[addr]})
	}
	bytesrepr.WriteMap(w, akEntries,
		func(w *bytesrepr.Writer, k Addr32) { w.WriteFixedBytes(k[:]) },
		func(w *bytesrepr.Writer, v Weight) { w.WriteU8(uint8(v)) },
	)

	w.WriteU8(uint8(a.ActionThresholds.Deployment))
	w.WriteU8(uint8(a.ActionThresholds.KeyManagement))
}

// ReadAccount decodes an Account previously written by WriteAccount.
func ReadAccount(r *bytesrepr.Reader) (Account, error) {
	var a Account
	addrBytes, err := r.ReadFixedBytes(32)
	if err != nil {
		return a, err
	}
	copy(a.Addr[:], addrBytes)

	namedKeyEntries, err := bytesrepr.ReadMap(r,
		func(r *bytesrepr.Reader) (string, error) { return r.ReadString() },
		func(r *bytesrepr.Reader) (Key, error) { return ReadKey(r) },
	)
	if err != nil {
		return a, err
	}
	a.NamedKeys = make(map[string]Key, len(namedKeyEntries))
	for _, e := range namedKeyEntries {
		a.NamedKeys[e.Key] = e.Value
	}

	purseAddr, err := r.ReadFixedBytes(32)
	if err != nil {
		return a, err
	}
	purseRights, err := r.ReadU8()
	if err != nil {
		return a, err
	}
	copy(a.MainPurse.Addr[:], purseAddr)
	a.MainPurse.Rights = AccessRights(purseRights)

	akEntries, err := bytesrepr.ReadMap(r,
		func(r *bytesrepr.Reader) (Addr32, error) {
			b, err := r.ReadFixedBytes(32)
			var addr Addr32
			if err == nil {
				copy(addr[:], b)
			}
			return addr, err
		},
		func(r *bytesrepr.Reader) (Weight, error) {
			w, err := r.ReadU8()
			return Weight(w), err
		},
	)
	if err != nil {
		return a, err
	}
	a.AssociatedKeys = make(map[Addr32]Weight, len(akEntries))
	for _, e := range akEntries {
		a.AssociatedKeys[e.Key] = e.Value
	}

	dep, err := r.ReadU8()
	if err != nil {
		return a, err
	}
	km, err := r.ReadU8()
	if err != nil {
		return a, err
	}
	a.ActionThresholds = ActionThresholds{Deployment: Weight(dep), KeyManagement: Weight(km)}
	return a, nil
}
