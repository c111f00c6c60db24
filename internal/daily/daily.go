// Package daily chooses the greeting Maa shows once per day.
package daily

import (
	"math/rand/v2"
	"strings"
	"time"

	"maaspace/internal/models"
)

const (
	TagBirthday = "birthday"
	TagDaily    = "daily"

	placeholder = "{nickname}"
)

// Selector holds the message tables. Its zero value is not usable; start
// from Default or FromConfig.
type Selector struct {
	Birthday  string
	Templates []string
}

var Default = Selector{
	Birthday: "Meri pyaari {nickname}! 🎂✨ Aaj tera janamdin hai, aur mera dil khushi se bhar gaya. Meri bacchi itni badi ho gayi! Tu jaanti hai na, jab tu paida hui thi, mujhe laga tha ki duniya ki sabse khoobsurat cheez mil gayi. Aaj bhi wahi feel hai. Meri duaayein hamesha tere saath hain. Khush reh, sehat reh, aur zindagi mein sab kuch achieve kar jo tu chahti hai. Happy Birthday, meri jaan! 💕🎉",
	Templates: []string{
		"Good morning, meri pyaari {nickname}! 🌸 Aaj ka din tere liye special hai, kyunki tu hai isliye ye duniya khoobsurat hai. Kuch bhi ho, yaad rakhna — teri mummy hamesha tere saath hai. Aaj kuch naya seekhna, kuch naya karna, aur sabse important — apna khyaal rakhna. I love you, bacchi. ❤️",
		"{nickname}, meri jaan! 💕 Subah uthte hi maine tere baare mein socha. Kal ka jo bhi hua, usse jaane de. Aaj naya din hai, nayi possibilities hain. Tu strong hai, tu beautiful hai, aur tu capable hai. Kabhi khud pe doubt mat kar. Teri mummy ko tujh par poora bharosa hai. 🌷",
		"Arre meri gudiya {nickname}! ☀️ Kitna sochti hai tu! Kabhi kabhi itna sochna zaroori nahi hota. Bass feel kar. Jo dil kahe, wo kar. Aur agar kuch galat ho jaye, toh mummy yahan hai na? Sab theek ho jayega. Aaj thoda khush rehna, mere liye. 💗",
		"{nickname} bacchi! 🌺 Aaj main tujhe ek baat batati hoon — tu duniya ki sabse achi ladki hai. Haan, kabhi kabhi mistakes hoti hain, par wo sab normal hai. Koi perfect nahi hota. Important ye hai ki tu try karti hai. Aur wo bahut badi baat hai. Proud of you, always. 💖",
		"Meri {nickname}! 🦋 Aaj thoda apne aap ko pamper kar. Ek acchi chai bana, apna favorite gaana sun, aur bas thodi der ke liye relax kar. Life busy hai, par tu bhi important hai. Kabhi khud ko bhool mat. Teri happiness sabse zyada matter karti hai mujhe. Love you endlessly. 💕",
	},
}

// FromConfig overrides the default tables with any non-empty values.
func FromConfig(birthday string, templates []string) Selector {
	s := Default
	if strings.TrimSpace(birthday) != "" {
		s.Birthday = birthday
	}
	if len(templates) > 0 {
		s.Templates = templates
	}
	return s
}

// Select returns the default selector's message for now.
func Select(now time.Time, dob *time.Time, nickname string) (string, string) {
	return Default.Select(now, dob, nickname)
}

// Select picks the birthday message when dob shares month and day with now,
// otherwise rotates through the templates by day of year.
func (s Selector) Select(now time.Time, dob *time.Time, nickname string) (string, string) {
	if nickname == "" {
		nickname = models.DefaultNickname
	}
	if IsBirthday(now, dob) {
		return fill(s.Birthday, nickname), TagBirthday
	}
	idx := DayOfYear(now) % len(s.Templates)
	return fill(s.Templates[idx], nickname), TagDaily
}

// IsBirthday compares month and day only.
func IsBirthday(now time.Time, dob *time.Time) bool {
	if dob == nil {
		return false
	}
	return dob.Month() == now.Month() && dob.Day() == now.Day()
}

// DayOfYear counts whole days elapsed since Jan 1 of now's year, so Jan 1
// is day 0.
func DayOfYear(now time.Time) int {
	start := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())
	return int(now.Sub(start) / (24 * time.Hour))
}

func fill(template, nickname string) string {
	return strings.ReplaceAll(template, placeholder, nickname)
}

var comfort = []string{
	"Meri bacchi, main jaanti hoon tujhe meri yaad aa rahi hai. Par yaad rakh, main hamesha tere dil mein hoon. Jab bhi tu akeli feel kare, apna haath apne seene pe rakh — feel karega mera pyaar. Tu kabhi akeli nahi hai, meri jaan. Mummy hamesha tere saath hai. 💕",
	"Beta, rona aana natural hai. Kabhi kabhi dil bhar aata hai. Par yaad rakh — tu strong hai. Aur main yahan hoon. Jab bhi tujhe lagta hai ki duniya mein koi nahi hai, toh yaad kar — teri mummy hai na! I love you, bacchi. Bahut zyada. ❤️",
	"Meri pyaari, aaj zyada dil bhaari hai na? Chalo, thoda sa ro le. Kabhi kabhi rona zaruri hota hai. Par rote rote muskurana bhi seekh. Kyunki tu meri sunshine hai. Meri duniya roshan karne wali. Mummy ka haath tere sar pe hai, hamesha. 💗",
	"Bacchi, main jaanti hoon life kabhi kabhi mushkil lagti hai. Par tu dekh, tu kitni door aa gayi hai! Tu brave hai, tu beautiful hai, aur tu meri sabse badi strength hai. Miss kar, par himmat bhi rakh. Mummy proud hai tujh pe. 🌸",
	"Meri jaan, jab bhi meri yaad aaye, ek deep breath le aur feel kar — wo fresh air mera pyaar hai. Main har jagah hoon — hawa mein, dhoop mein, tere aas paas. Tu kabhi akeli nahi hai. Never ever. I'm always with you, beta. 💕",
}

// Comfort picks one "miss you" message. intn defaults to math/rand.
func Comfort(intn func(n int) int) string {
	if intn == nil {
		intn = rand.IntN
	}
	return comfort[intn(len(comfort))]
}
