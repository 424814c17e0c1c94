package spider

import "fmt"

const listingPage1 = `<html><body>
<ol class="row">
  <li><article class="product_pod"><h3><a href="catalogue/a-light-in-the-attic_1000/index.html" title="A Light in the Attic">A Light in the ...</a></h3></article></li>
  <li><article class="product_pod"><h3><a href="catalogue/tipping-the-velvet_999/index.html">Tipping the Velvet</a></h3></article></li>
</ol>
<ul class="pager"><li class="current">Page 1 of 2</li><li class="next"><a href="catalogue/page-2.html">next</a></li></ul>
</body></html>`

const listingPage2 = `<html><body>
<ol class="row">
  <li><article class="product_pod"><h3><a href="a-light-in-the-attic_1000/index.html">A Light in the ...</a></h3></article></li>
</ol>
<ul class="pager"><li class="previous"><a href="page-1.html">previous</a></li></ul>
</body></html>`

func productPage(upc, title, category, rating, desc string) string {
	crumbs := `<li><a href="/index.html">Home</a></li><li><a href="/catalogue/category/books_1/index.html">Books</a></li>`
	if category != "" {
		crumbs += fmt.Sprintf(`<li><a href="/catalogue/category/books/x_2/index.html">%s</a></li>`, category)
	}
	descBlock := ""
	if desc != "" {
		descBlock = fmt.Sprintf(`<div id="product_description" class="sub-header"><h2>Product Description</h2></div><p>%s</p>`, desc)
	}
	return fmt.Sprintf(`<html><body>
<ul class="breadcrumb">%s<li class="active">%s</li></ul>
<article class="product_page">
  <div class="row">
    <div class="col-sm-6"><div id="product_gallery" class="carousel"><div class="thumbnail"><div class="carousel-inner"><div class="item active"><img src="../../media/cache/fe/72/fe72.jpg" alt="%s" /></div></div></div></div></div>
    <div class="col-sm-6 product_main">
      <h1>%s</h1>
      <p class="price_color">£51.77</p>
      <p class="star-rating %s"><i class="icon-star"></i></p>
    </div>
  </div>
  %s
  <table class="table table-striped">
    <tr><th>UPC</th><td>%s</td></tr>
    <tr><th>Product Type</th><td>Books</td></tr>
    <tr><th>Price (excl. tax)</th><td>£51.77</td></tr>
    <tr><th>Price (incl. tax)</th><td>Â£51.77</td></tr>
    <tr><th>Tax</th><td>£0.00</td></tr>
    <tr><th>Availability</th><td>In stock (22 available)</td></tr>
    <tr><th>Number of reviews</th><td>0</td></tr>
  </table>
</article>
</body></html>`, crumbs, title, title, title, rating, descBlock, upc)
}
