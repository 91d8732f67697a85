// Package recorder converts a live browser session into a durable,
// ordered log of user operations.
//
// A Controller launches a Chromium session through Playwright, installs
// in-page capture instrumentation into every frame, and supervises the
// run until it ends. Clicks, input changes and navigations arrive as
// structured events over a dual push/poll channel; each event becomes
// one Operation with a navigation-resilient cross-frame locator, a
// highlighted screenshot and a normalized DOM context snapshot. Input
// bursts are coalesced so only the final value of a typing sequence
// survives. A background monitor keeps cleaned HTML snapshots per
// visited URL.
//
// Everything a session produces lands in one directory:
// operations.json, metadata.json, auth_state.json, screenshots/ and
// html_snapshots/ with a manifest.
package recorder
