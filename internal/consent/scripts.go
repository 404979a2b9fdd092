package consent

import (
	"encoding/json"
	"fmt"
)

// report is the value returned by the suppression script.
type report struct {
	Clicked   int `json:"clicked"`
	Removed   int `json:"removed"`
	Remaining int `json:"remaining"`
}

// documentsJS yields the top document plus, when frames is true, every
// same-origin iframe document. Cross-origin frames throw here and are
// searched separately through isolatedFrames.
const documentsJS = `const docs = [document];
  if (%t) {
    for (const f of document.querySelectorAll('iframe')) {
      try { if (f.contentDocument) docs.push(f.contentDocument); } catch (e) {}
    }
  }
  const all = (d, s) => { try { return Array.from(d.querySelectorAll(s)); } catch (e) { return []; } };`

func detectScript(banners []string, frames bool) (string, error) {
	sels, err := json.Marshal(banners)
	if err != nil {
		return "", fmt.Errorf("encode selectors: %w", err)
	}
	return fmt.Sprintf(`(() => {
  const banners = %s;
  `+documentsJS+`
  return docs.some(d => banners.some(s => all(d, s).length > 0));
})()`, sels, frames), nil
}

func suppressScript(banners, accepts []string, frames bool) (string, error) {
	bannerSels, err := json.Marshal(banners)
	if err != nil {
		return "", fmt.Errorf("encode selectors: %w", err)
	}
	if accepts == nil {
		accepts = []string{}
	}
	acceptSels, err := json.Marshal(accepts)
	if err != nil {
		return "", fmt.Errorf("encode accept selectors: %w", err)
	}
	return fmt.Sprintf(`(() => {
  const banners = %s;
  const accepts = %s;
  `+documentsJS+`
  let clicked = 0, removed = 0, remaining = 0;
  for (const d of docs) {
    for (const s of accepts) {
      for (const el of all(d, s)) {
        try { el.click(); clicked++; } catch (e) {}
      }
    }
    for (const s of banners) {
      for (const el of all(d, s)) { el.remove(); removed++; }
    }
    for (const s of banners) remaining += all(d, s).length;
    if (d.body && d.body.style.overflow === 'hidden') d.body.style.overflow = '';
  }
  return { clicked, removed, remaining };
})()`, bannerSels, acceptSels, frames), nil
}
