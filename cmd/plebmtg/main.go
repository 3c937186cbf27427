// Command plebmtg fetches card data, runs the cluster and regression analysis
// and exports the results.
package main

func main() {
	Execute()
}
