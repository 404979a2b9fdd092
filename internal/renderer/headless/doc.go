// Package headless captures the target page with headless Chrome via chromedp.
//
// Every Render call starts its own browser process and tears it down before
// returning, so a crashed or wedged session never leaks into the next run.
package headless
