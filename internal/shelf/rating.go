package shelf

import "github.com/hitoshi/shelfmate/internal/model"

// CanRate はエントリに評価を設定できるかを返す。
// 評価できるのは読了（read）のエントリのみで、再評価は常に許可される。
func CanRate(entry *model.ShelfEntry) bool {
	return entry != nil && entry.Status == model.StatusRead
}

// requireRating は読了へのステータス変更時に評価が指定されているかを検証する。
func requireRating(status model.ShelfStatus, rating model.Rating) error {
	if status != model.StatusRead {
		return nil
	}
	if !rating.Valid() {
		return model.NewInvalidRatingError(string(rating))
	}
	return nil
}
