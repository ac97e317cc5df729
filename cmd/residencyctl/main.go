// Command residencyctl drives and inspects a residency.Manager from the
// command line: run opens a window that pages a grid of synthetic
// images in and out of residency interactively, stress drives the same
// manager headlessly against a much larger synthetic asset set, and
// inspect prints a one-shot snapshot of a freshly constructed manager
// after a couple of settling iterate passes.
package main

func main() {
	Execute()
}
