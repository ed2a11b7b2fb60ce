package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/lockerclaim/internal/model"
)

// memoryState はMemoryStoreが保持するデータ一式。
// トランザクションごとに複製され、成功時のみ置き換えられる。
type memoryState struct {
	objects     map[string]model.Object
	claims      map[string]model.Claim
	members     map[string]model.Member
	categories  map[int64]model.Category
	places      map[int64]model.Place
	pointEvents map[string]model.PointEvent
	seq         map[string]int64 // 拾得物・申請の挿入順
	nextSeq     int64
}

func newMemoryState() memoryState {
	return memoryState{
		objects:     make(map[string]model.Object),
		claims:      make(map[string]model.Claim),
		members:     make(map[string]model.Member),
		categories:  make(map[int64]model.Category),
		places:      make(map[int64]model.Place),
		pointEvents: make(map[string]model.PointEvent),
		seq:         make(map[string]int64),
	}
}

func (s memoryState) clone() memoryState {
	c := newMemoryState()
	for k, v := range s.objects {
		c.objects[k] = cloneObject(v)
	}
	for k, v := range s.claims {
		c.claims[k] = cloneClaim(v)
	}
	for k, v := range s.members {
		c.members[k] = v
	}
	for k, v := range s.categories {
		c.categories[k] = v
	}
	for k, v := range s.places {
		c.places[k] = v
	}
	for k, v := range s.pointEvents {
		c.pointEvents[k] = v
	}
	for k, v := range s.seq {
		c.seq[k] = v
	}
	c.nextSeq = s.nextSeq
	return c
}

func cloneObject(o model.Object) model.Object {
	if o.LockExpiry != nil {
		t := *o.LockExpiry
		o.LockExpiry = &t
	}
	return o
}

func cloneClaim(c model.Claim) model.Claim {
	if c.ResolvedAt != nil {
		t := *c.ResolvedAt
		c.ResolvedAt = &t
	}
	return c
}

func (s *memoryState) track(id string) {
	s.nextSeq++
	s.seq[id] = s.nextSeq
}

// MemoryStore はプロセス内メモリを使用したStore実装。
// トランザクションはストア全体の排他ロックで直列化され、fnがエラーを返した場合は破棄される。
// 開発環境とテストで使用する。
type MemoryStore struct {
	mu    sync.RWMutex
	state memoryState
}

// NewMemoryStore は初期カテゴリ・拾得場所を投入したMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	st := newMemoryState()
	for _, c := range []model.Category{
		{ID: 1, Name: "Electronics"},
		{ID: 2, Name: "Wallet/Card"},
		{ID: 3, Name: "Bag"},
		{ID: 4, Name: "Clothing"},
		{ID: 5, Name: "Other"},
	} {
		st.categories[c.ID] = c
	}
	for _, p := range []model.Place{
		{ID: 1, Name: "Main Building", Address: "Main Building", DetailAddress: "Lobby locker bank"},
		{ID: 2, Name: "Student Center", Address: "Student Center", DetailAddress: "1F information desk"},
		{ID: 3, Name: "Library", Address: "Library", DetailAddress: "Entrance locker bank"},
	} {
		st.places[p.ID] = p
	}
	return &MemoryStore{state: st}
}

// Repos はトランザクション外の読み取り・単発書き込み用のリポジトリを返す。
func (s *MemoryStore) Repos() Repos {
	return newMemoryRepos(memView{store: s})
}

// WithinTx はfnをストア全体の排他ロック下で実行する。
// fnが成功した場合のみ変更を反映する。
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx Repos) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	if err := fn(newMemoryRepos(memView{store: s, state: &working})); err != nil {
		return err
	}
	s.state = working
	return nil
}

func newMemoryRepos(v memView) Repos {
	return Repos{
		Objects:     memObjectRepo{v},
		Claims:      memClaimRepo{v},
		Members:     memMemberRepo{v},
		References:  memReferenceRepo{v},
		PointEvents: memPointEventRepo{v},
	}
}

// memView はトランザクション中であれば作業中の状態を、そうでなければストアの状態を参照する。
type memView struct {
	store *MemoryStore
	state *memoryState
}

func (v memView) read(fn func(st *memoryState)) {
	if v.state != nil {
		fn(v.state)
		return
	}
	v.store.mu.RLock()
	defer v.store.mu.RUnlock()
	fn(&v.store.state)
}

func (v memView) write(fn func(st *memoryState) error) error {
	if v.state != nil {
		return fn(v.state)
	}
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	return fn(&v.store.state)
}

type memObjectRepo struct{ v memView }

func (r memObjectRepo) FindByID(_ context.Context, id string, _ bool) (*model.Object, error) {
	var out *model.Object
	r.v.read(func(st *memoryState) {
		if o, ok := st.objects[id]; ok {
			c := cloneObject(o)
			out = &c
		}
	})
	return out, nil
}

func (r memObjectRepo) FindDetail(_ context.Context, id string) (*model.ObjectDetail, error) {
	var out *model.ObjectDetail
	r.v.read(func(st *memoryState) {
		o, ok := st.objects[id]
		if !ok {
			return
		}
		c, okc := st.categories[o.CategoryID]
		p, okp := st.places[o.PlaceID]
		if !okc || !okp {
			return
		}
		out = &model.ObjectDetail{
			Object:             cloneObject(o),
			CategoryName:       c.Name,
			PlaceName:          p.Name,
			PlaceAddress:       p.Address,
			PlaceDetailAddress: p.DetailAddress,
		}
	})
	return out, nil
}

func (r memObjectRepo) Create(_ context.Context, obj *model.Object) error {
	return r.v.write(func(st *memoryState) error {
		if _, exists := st.objects[obj.ID]; exists {
			return fmt.Errorf("拾得物の作成に失敗しました: 重複したID %s", obj.ID)
		}
		if _, ok := st.categories[obj.CategoryID]; !ok {
			return fmt.Errorf("拾得物の作成に失敗しました: カテゴリ %d が存在しません", obj.CategoryID)
		}
		if _, ok := st.places[obj.PlaceID]; !ok {
			return fmt.Errorf("拾得物の作成に失敗しました: 拾得場所 %d が存在しません", obj.PlaceID)
		}
		st.objects[obj.ID] = cloneObject(*obj)
		st.track(obj.ID)
		return nil
	})
}

func (r memObjectRepo) ListPublic(_ context.Context) ([]*model.Object, error) {
	var out []*model.Object
	r.v.read(func(st *memoryState) {
		for _, o := range st.objects {
			if o.Status == model.ObjectStatusStored || o.Status == model.ObjectStatusClaimPending {
				c := cloneObject(o)
				out = append(out, &c)
			}
		}
		sort.Slice(out, func(i, j int) bool {
			if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
				return out[i].CreatedAt.After(out[j].CreatedAt)
			}
			return st.seq[out[i].ID] > st.seq[out[j].ID]
		})
	})
	return out, nil
}

func (r memObjectRepo) ApplyTransition(_ context.Context, obj *model.Object) error {
	return r.v.write(func(st *memoryState) error {
		cur, ok := st.objects[obj.ID]
		if !ok {
			return fmt.Errorf("拾得物が見つかりません: %s", obj.ID)
		}
		if (obj.Status == model.ObjectStatusClaimPending) != (obj.LockExpiry != nil) {
			return fmt.Errorf("拾得物の状態更新に失敗しました: status=%s とlock_expiryが整合しません", obj.Status)
		}
		cur.Status = obj.Status
		cur.IsRetrieved = obj.IsRetrieved
		cur.UpdatedAt = obj.UpdatedAt
		cur.LockExpiry = nil
		if obj.LockExpiry != nil {
			t := *obj.LockExpiry
			cur.LockExpiry = &t
		}
		st.objects[obj.ID] = cur
		return nil
	})
}

func (r memObjectRepo) ListExpiredLocks(_ context.Context, now time.Time, limit int) ([]*model.Object, error) {
	var out []*model.Object
	r.v.read(func(st *memoryState) {
		for _, o := range st.objects {
			if o.Status == model.ObjectStatusClaimPending && o.LockExpired(now) {
				c := cloneObject(o)
				out = append(out, &c)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].LockExpiry.Before(*out[j].LockExpiry) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memClaimRepo struct{ v memView }

func (r memClaimRepo) FindByID(_ context.Context, id string, _ bool) (*model.Claim, error) {
	var out *model.Claim
	r.v.read(func(st *memoryState) {
		if c, ok := st.claims[id]; ok {
			cc := cloneClaim(c)
			out = &cc
		}
	})
	return out, nil
}

func (r memClaimRepo) Create(_ context.Context, claim *model.Claim) error {
	return r.v.write(func(st *memoryState) error {
		if _, exists := st.claims[claim.ID]; exists {
			return fmt.Errorf("受取申請の作成に失敗しました: 重複したID %s", claim.ID)
		}
		if _, ok := st.objects[claim.ObjectID]; !ok {
			return fmt.Errorf("受取申請の作成に失敗しました: 拾得物 %s が存在しません", claim.ObjectID)
		}
		if _, ok := st.members[claim.ClaimantID]; !ok {
			return fmt.Errorf("受取申請の作成に失敗しました: 会員 %s が存在しません", claim.ClaimantID)
		}
		st.claims[claim.ID] = cloneClaim(*claim)
		st.track(claim.ID)
		return nil
	})
}

// sortClaims は申請日時順（同時刻は挿入順）に並べ替える。
func sortClaims(st *memoryState, claims []model.Claim, desc bool) {
	sort.Slice(claims, func(i, j int) bool {
		a, b := claims[i], claims[j]
		if !a.RequestedAt.Equal(b.RequestedAt) {
			if desc {
				return a.RequestedAt.After(b.RequestedAt)
			}
			return a.RequestedAt.Before(b.RequestedAt)
		}
		if desc {
			return st.seq[a.ID] > st.seq[b.ID]
		}
		return st.seq[a.ID] < st.seq[b.ID]
	})
}

func (r memClaimRepo) ListActiveByObject(_ context.Context, objectID string, _ bool) ([]*model.Claim, error) {
	var out []*model.Claim
	r.v.read(func(st *memoryState) {
		var matched []model.Claim
		for _, c := range st.claims {
			if c.ObjectID == objectID && c.Status.Active() {
				matched = append(matched, cloneClaim(c))
			}
		}
		sortClaims(st, matched, false)
		for i := range matched {
			out = append(out, &matched[i])
		}
	})
	return out, nil
}

func (r memClaimRepo) ListPendingForReview(_ context.Context) ([]model.ClaimForReview, error) {
	var out []model.ClaimForReview
	r.v.read(func(st *memoryState) {
		var pending []model.Claim
		for _, c := range st.claims {
			if c.Status == model.ClaimStatusPending {
				pending = append(pending, cloneClaim(c))
			}
		}
		sortClaims(st, pending, false)
		for _, c := range pending {
			m, okm := st.members[c.ClaimantID]
			o, oko := st.objects[c.ObjectID]
			if !okm || !oko {
				continue
			}
			out = append(out, model.ClaimForReview{
				Claim:        c,
				ClaimantName: m.Name,
				ObjectName:   o.Name,
				LockerNumber: o.LockerNumber,
				ObjectStatus: o.Status,
			})
		}
	})
	return out, nil
}

func (r memClaimRepo) ListApprovedFor(_ context.Context, claimantID string) ([]model.ApprovedClaim, error) {
	var out []model.ApprovedClaim
	r.v.read(func(st *memoryState) {
		var approved []model.Claim
		for _, c := range st.claims {
			if c.ClaimantID != claimantID || c.Status != model.ClaimStatusApproved {
				continue
			}
			if o, ok := st.objects[c.ObjectID]; ok && o.Status == model.ObjectStatusClaimApproved {
				approved = append(approved, cloneClaim(c))
			}
		}
		sortClaims(st, approved, true)
		for _, c := range approved {
			o := st.objects[c.ObjectID]
			out = append(out, model.ApprovedClaim{
				Claim:        c,
				ObjectName:   o.Name,
				ImageRef:     o.ImageRef,
				LockerNumber: o.LockerNumber,
				ObjectStatus: o.Status,
			})
		}
	})
	return out, nil
}

func (r memClaimRepo) ApplyTransition(_ context.Context, claim *model.Claim) error {
	return r.v.write(func(st *memoryState) error {
		cur, ok := st.claims[claim.ID]
		if !ok {
			return fmt.Errorf("受取申請が見つかりません: %s", claim.ID)
		}
		if claim.Status == model.ClaimStatusApproved {
			for id, other := range st.claims {
				if id != claim.ID && other.ObjectID == cur.ObjectID && other.Status == model.ClaimStatusApproved {
					return fmt.Errorf("受取申請の状態更新に失敗しました: 拾得物 %s には承認済み申請が既に存在します", cur.ObjectID)
				}
			}
		}
		cur.Status = claim.Status
		cur.ResolutionReason = claim.ResolutionReason
		cur.ReviewedBy = claim.ReviewedBy
		cur.UpdatedAt = claim.UpdatedAt
		cur.ResolvedAt = nil
		if claim.ResolvedAt != nil {
			t := *claim.ResolvedAt
			cur.ResolvedAt = &t
		}
		st.claims[claim.ID] = cur
		return nil
	})
}

type memMemberRepo struct{ v memView }

func (r memMemberRepo) FindByID(_ context.Context, id string) (*model.Member, error) {
	var out *model.Member
	r.v.read(func(st *memoryState) {
		if m, ok := st.members[id]; ok {
			out = &m
		}
	})
	return out, nil
}

func (r memMemberRepo) Create(_ context.Context, member *model.Member) error {
	return r.v.write(func(st *memoryState) error {
		if _, exists := st.members[member.ID]; exists {
			return fmt.Errorf("会員の作成に失敗しました: 重複したID %s", member.ID)
		}
		st.members[member.ID] = *member
		return nil
	})
}

func (r memMemberRepo) AddPoints(_ context.Context, memberID string, amount int) error {
	return r.v.write(func(st *memoryState) error {
		m, ok := st.members[memberID]
		if !ok {
			return fmt.Errorf("会員が見つかりません: %s", memberID)
		}
		m.Points += amount
		st.members[memberID] = m
		return nil
	})
}

type memReferenceRepo struct{ v memView }

func (r memReferenceRepo) FindCategory(_ context.Context, id int64) (*model.Category, error) {
	var out *model.Category
	r.v.read(func(st *memoryState) {
		if c, ok := st.categories[id]; ok {
			out = &c
		}
	})
	return out, nil
}

func (r memReferenceRepo) FindPlace(_ context.Context, id int64) (*model.Place, error) {
	var out *model.Place
	r.v.read(func(st *memoryState) {
		if p, ok := st.places[id]; ok {
			out = &p
		}
	})
	return out, nil
}

func (r memReferenceRepo) ListCategories(_ context.Context) ([]model.Category, error) {
	var out []model.Category
	r.v.read(func(st *memoryState) {
		for _, c := range st.categories {
			out = append(out, c)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memReferenceRepo) ListPlaces(_ context.Context) ([]model.Place, error) {
	var out []model.Place
	r.v.read(func(st *memoryState) {
		for _, p := range st.places {
			out = append(out, p)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memPointEventRepo struct{ v memView }

func (r memPointEventRepo) Insert(_ context.Context, event *model.PointEvent) (bool, error) {
	inserted := false
	err := r.v.write(func(st *memoryState) error {
		if _, exists := st.pointEvents[event.ObjectID]; exists {
			return nil
		}
		if _, ok := st.members[event.MemberID]; !ok {
			return fmt.Errorf("ポイント付与イベントの記録に失敗しました: 会員 %s が存在しません", event.MemberID)
		}
		st.pointEvents[event.ObjectID] = *event
		inserted = true
		return nil
	})
	return inserted, err
}

var (
	_ Store                = (*MemoryStore)(nil)
	_ ObjectRepository     = memObjectRepo{}
	_ ClaimRepository      = memClaimRepo{}
	_ MemberRepository     = memMemberRepo{}
	_ ReferenceRepository  = memReferenceRepo{}
	_ PointEventRepository = memPointEventRepo{}
)
