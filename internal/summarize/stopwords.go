package summarize

// Folded (lowercase, accent-free) Spanish and English stopwords
var stopwords = toSet(`
a al algo algunas algunos ante antes como con contra cual cuales cuando de del desde donde
dos durante e el ella ellas ellos en entre era eran es esa esas ese eso esos esta estan
estas este esto estos fue fueron ha han hasta hay la las le les lo los mas me mi mis muy
nada ni no nos nuestra nuestro o os otra otro para pero por porque que quien quienes se
sea segun ser si sin sobre su sus tambien tan te tiene tienen todo todos tu tus u un una
unas uno unos usted ustedes y ya yo dicho dicha dichos dichas cada sido siendo sera
the of and to in is it that for on as with by at from be this are was were or an not but
have has had which their they them its into than then there these those will would can
could should may might been being do does did so such if no nor our your his her he she we
`)

func toSet(words string) map[string]struct{} {
	set := make(map[string]struct{})
	start := -1
	for i := 0; i <= len(words); i++ {
		if i == len(words) || words[i] == ' ' || words[i] == '\n' {
			if start >= 0 {
				set[words[start:i]] = struct{}{}
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	return set
}

func isStopword(folded string) bool {
	_, ok := stopwords[folded]
	return ok
}
