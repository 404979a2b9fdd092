package consent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
)

const consentWorld = "radarsnap-consent"

// isolatedFrames lists the frames the top document cannot reach through
// contentDocument: any frame with a different origin, and everything nested
// below one.
func isolatedFrames(ctx context.Context) ([]cdp.FrameID, error) {
	tree, err := page.GetFrameTree().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("frame tree: %w", err)
	}
	if tree == nil || tree.Frame == nil {
		return nil, nil
	}
	top := tree.Frame.SecurityOrigin
	var ids []cdp.FrameID
	var walk func(children []*page.FrameTree, reachable bool)
	walk = func(children []*page.FrameTree, reachable bool) {
		for _, child := range children {
			if child == nil || child.Frame == nil {
				continue
			}
			sameOrigin := reachable && child.Frame.SecurityOrigin == top
			if !sameOrigin {
				ids = append(ids, child.Frame.ID)
			}
			walk(child.ChildFrames, sameOrigin)
		}
	}
	walk(tree.ChildFrames, true)
	return ids, nil
}

// evaluateInFrame runs script in an isolated world of the frame and decodes
// the returned value into out. Isolated worlds share the frame's DOM.
func evaluateInFrame(ctx context.Context, frameID cdp.FrameID, script string, out any) error {
	world, err := page.CreateIsolatedWorld(frameID).WithWorldName(consentWorld).Do(ctx)
	if err != nil {
		return fmt.Errorf("isolated world for frame %s: %w", frameID, err)
	}
	res, exc, err := runtime.Evaluate(script).WithContextID(world).WithReturnByValue(true).Do(ctx)
	if err != nil {
		return fmt.Errorf("evaluate in frame %s: %w", frameID, err)
	}
	if exc != nil {
		return fmt.Errorf("evaluate in frame %s: %w", frameID, exc)
	}
	if res == nil || len(res.Value) == 0 {
		return fmt.Errorf("evaluate in frame %s: no value", frameID)
	}
	return json.Unmarshal(res.Value, out)
}
