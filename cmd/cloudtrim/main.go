// Cloudtrim - Azure Waste Detection Engine
// Scan. Score. Trim.
package main

func main() {
	Execute()
}
