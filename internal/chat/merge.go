package chat

import (
	"time"

	"sudooom.planverse/internal/model"
)

// Outcome 合并结果
type Outcome int

const (
	// Inserted 新消息，按创建时间插入
	Inserted Outcome = iota
	// Confirmed 服务端行替换了本地临时消息
	Confirmed
	// Updated 已有消息的字段或状态发生变化
	Updated
	// Duplicate 重复投递，列表不变
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Confirmed:
		return "confirmed"
	case Updated:
		return "updated"
	default:
		return "duplicate"
	}
}

// MergeResult 合并详情
type MergeResult struct {
	Outcome Outcome
	// TempID 被替换掉的临时消息ID，仅 Confirmed 时非空
	TempID string
}

// Merge 把一条服务端消息合并进按创建时间排序的列表，返回新列表，不修改入参
//
// 匹配顺序：相同服务端ID；client_id 指向的临时消息；
// 同一发送者、相同内容且时间差不超过 window 的临时消息（仅限没有 client_id 的行）；
// 都不匹配则按时间插入。
func Merge(list []model.Message, in model.Message, window time.Duration) ([]model.Message, MergeResult) {
	out := make([]model.Message, len(list), len(list)+1)
	copy(out, list)

	if i := indexOf(out, in.ID); i >= 0 {
		cur := out[i]
		next := in
		next.Status = model.Advance(cur.Status, in.Status)
		next.IsRead = cur.IsRead || in.IsRead
		changed := !sameMessage(next, cur)
		out[i] = next
		if in.ClientID != "" {
			if j := indexOf(out, in.ClientID); j >= 0 && out[j].IsTemp() {
				out = removeAt(out, j)
				changed = true
			}
		}
		if !next.CreatedAt.Equal(cur.CreatedAt) {
			// 创建时间变了，重新定位以保持排序
			k := indexOf(out, next.ID)
			out = insertSorted(removeAt(out, k), next)
		}
		if !changed {
			return out, MergeResult{Outcome: Duplicate}
		}
		return out, MergeResult{Outcome: Updated}
	}

	if in.ClientID != "" {
		if j := indexOf(out, in.ClientID); j >= 0 && out[j].IsTemp() {
			return confirmAt(out, j, in), MergeResult{Outcome: Confirmed, TempID: in.ClientID}
		}
	} else if j := closestTemp(out, &in, window); j >= 0 {
		tempID := out[j].ID
		return confirmAt(out, j, in), MergeResult{Outcome: Confirmed, TempID: tempID}
	}

	return insertSorted(out, in), MergeResult{Outcome: Inserted}
}

// confirmAt 用服务端行替换临时消息，尽量保持原位置，只有违反时间顺序时才移动
func confirmAt(list []model.Message, i int, in model.Message) []model.Message {
	in.Status = model.Advance(list[i].Status, in.Status)
	if in.Status == model.StatusFailed || in.Status == model.StatusSending {
		in.Status = model.StatusSent
	}
	list[i] = in

	inOrder := (i == 0 || !list[i-1].CreatedAt.After(in.CreatedAt)) &&
		(i == len(list)-1 || !list[i+1].CreatedAt.Before(in.CreatedAt))
	if inOrder {
		return list
	}
	return insertSorted(removeAt(list, i), in)
}

func sameMessage(a, b model.Message) bool {
	ca, cb := a.CreatedAt, b.CreatedAt
	a.CreatedAt, b.CreatedAt = time.Time{}, time.Time{}
	return a == b && ca.Equal(cb)
}

func closestTemp(list []model.Message, in *model.Message, window time.Duration) int {
	best, bestDelta := -1, time.Duration(0)
	for i := range list {
		m := &list[i]
		if !m.IsTemp() || m.SenderID != in.SenderID || !m.SameContent(in) {
			continue
		}
		delta := m.CreatedAt.Sub(in.CreatedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta > window {
			continue
		}
		if best < 0 || delta < bestDelta {
			best, bestDelta = i, delta
		}
	}
	return best
}

// insertSorted 插到第一个晚于它的消息之前，时间相同时排在后面
func insertSorted(list []model.Message, m model.Message) []model.Message {
	pos := len(list)
	for i := range list {
		if list[i].CreatedAt.After(m.CreatedAt) {
			pos = i
			break
		}
	}
	list = append(list, model.Message{})
	copy(list[pos+1:], list[pos:])
	list[pos] = m
	return list
}

// Remove 按ID删除，返回新列表和是否删除
func Remove(list []model.Message, id string) ([]model.Message, bool) {
	i := indexOf(list, id)
	if i < 0 {
		return list, false
	}
	out := make([]model.Message, 0, len(list)-1)
	out = append(out, list[:i]...)
	return append(out, list[i+1:]...), true
}

func removeAt(list []model.Message, i int) []model.Message {
	return append(list[:i], list[i+1:]...)
}

func indexOf(list []model.Message, id string) int {
	if id == "" {
		return -1
	}
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}
