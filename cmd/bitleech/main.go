// Command bitleech downloads a single torrent's payload as a leecher:
// it never seeds, never re-announces after the initial peer discovery,
// and exits once every piece verifies.
package main

func main() {
	Execute()
}
