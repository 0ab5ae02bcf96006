// Package shelf は本棚ステータスと読書進捗の整合処理を提供する。
//
// ページ数と進捗率の変換、読了判定、「読書中」の競合解決、
// およびそれらを永続化層に対して実行するControllerを含む。
package shelf

// PageToPercent はページ数を進捗率（0〜100）に変換する。
// 四捨五入（half-up）で整数化し、範囲外の値はクランプする。
// 100を返すのは page >= pageCount のときだけで、それ以外は最大99に丸める。
// pageCountが0以下の場合は0を返す。
func PageToPercent(page, pageCount int) int {
	if pageCount <= 0 || page <= 0 {
		return 0
	}
	if page >= pageCount {
		return 100
	}
	pct := (200*page + pageCount) / (2 * pageCount)
	if pct > 99 {
		pct = 99
	}
	return pct
}

// PercentToPage は進捗率をページ数（0〜pageCount）に変換する。
// 四捨五入（half-up）で整数化し、範囲外の値はクランプする。
func PercentToPage(percent, pageCount int) int {
	if pageCount <= 0 {
		return 0
	}
	if percent <= 0 {
		return 0
	}
	if percent >= 100 {
		return pageCount
	}
	page := (2*percent*pageCount + 100) / 200
	if page > pageCount {
		page = pageCount
	}
	return page
}

// IsComplete は読了に達しているかを返す。
// ページ数不明（pageCount <= 0）の書籍は読了扱いにしない。
func IsComplete(page, pageCount int) bool {
	return pageCount > 0 && page >= pageCount
}
